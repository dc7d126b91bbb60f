// Package ratelimit enforces sliding-window call budgets against a remote API.
//
// A Limiter holds any number of windows (the Expensify budget is 5 calls per
// 10 seconds and 20 calls per 60 seconds) and lets a call through only when
// every window has headroom at the instant the call is recorded. Callers
// block in Acquire until that is true; nothing is ever rejected, only delayed.
//
// Time is read through a Clock so tests can drive the limiter with a simulated
// clock instead of sleeping.
package ratelimit
