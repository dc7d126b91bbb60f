// Package expensify is the HTTP client for the Expensify Integration Server.
//
// Every request is a POST of a form field requestJobDescription holding a JSON
// job description. Creating an expense and uploading its receipt are two
// separate jobs against the same endpoint; Submit chains them.
//
// Each HTTP attempt first takes a slot from the shared rate limiter, so
// retries are budgeted like any other call. HTTP 429 and 5xx responses (and
// bodies whose responseCode says the same) are retried with capped
// exponential backoff. Other 4xx responses fail immediately with a
// *domain.RemoteError of kind ErrRemoteRejected that carries the body.
package expensify
