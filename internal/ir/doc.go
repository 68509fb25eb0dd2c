// Package ir provides the rule and value types shared by every other package.
//
// ir imports nothing internal. The engine, compiler, store, harness and CLI
// all speak in terms of ir.Rule, ir.ConditionSpec and ir.Value.
//
// Key constraints:
//   - no float values; numbers are int64 (timestamps and thresholds are ms)
//   - JSON tags use snake_case
//   - canonical JSON (RFC 8785, NFC strings) is the only input to hashing
package ir
