// Package plugins holds the registry of expense sources and the helpers the
// built-in sources share.
//
// A Registry is constructed explicitly and filled by loaders passed to
// Discover; there is no package-level registration. Each source package
// exports a Register function that adds its constructor, and builtin.Discover
// registers all of them.
//
// Constructors receive a private copy of the source's PluginConfig and a Deps
// value carrying the shared HTTP client, the browser session manager and the
// download directory. A plugin owns only what it opens itself; Close releases
// exactly that.
package plugins
