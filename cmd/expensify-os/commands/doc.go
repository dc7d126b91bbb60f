// Package commands defines the expensify-os CLI.
//
// Commands
//
//   - run        Fetch last month's charges and file them in Expensify
//   - validate   Check the config and probe every enabled source's credentials
//   - plugins    List registered sources and whether the config enables them
//
// # Implementation
//
// The root command sets up logging. Each subcommand loads the config and
// builds the dependency graph through internal/app, so --offline can skip
// secret resolution and plugins can run without a config at all.
package commands
