// Package main runs an in-memory Expensify Integration Server for local
// development. Point expensify.url at it to exercise a full run without
// touching a real account.
//
// HTTP API
//
//	POST /
//	    Form field requestJobDescription carries the job. inputSettings.type
//	    "create" stores the transactionList and answers with generated
//	    transactionIDs; "receiptUpload" attaches the multipart "file" part to
//	    inputSettings.transactionID.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Partner credentials other than the configured pair get responseCode 401.
//   - Requests beyond 5 per 10s or 20 per 60s get HTTP 429 unless --unlimited.
//   - Every request is access-logged with method, path, status, bytes and
//     duration.
package main
