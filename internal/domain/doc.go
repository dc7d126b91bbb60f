// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (expenses, periods, run results, cookies), error kinds
// and contracts (plugins, submitters, stores) only.
package domain
