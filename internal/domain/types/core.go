package types

// Source names a billing source, e.g. "anthropic". It is the registry key, the
// cookie store key and the label on every run result.
type Source string

// String returns the string form of the source name.
func (s Source) String() string { return string(s) }

// ExpenseID is the opaque transaction identifier returned by the expense API.
type ExpenseID string

// String returns the string form of the identifier.
func (id ExpenseID) String() string { return string(id) }

// PluginKind distinguishes how a plugin obtains its billing data.
type PluginKind string

const (
	// KindAPI plugins read amounts from a billing API and use the browser only
	// for the receipt download.
	KindAPI PluginKind = "api-backed"
	// KindBrowser plugins do everything through browser automation.
	KindBrowser PluginKind = "browser-only"
)

// String returns the string form of the kind.
func (k PluginKind) String() string { return string(k) }
