// Package client provides the `deferd` command-line client.
//
// The CLI talks to the deferd HTTP API to perform common operations from a
// terminal. It is primarily intended for developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it is read
// from the DEFERD_HTTP environment variable (default http://127.0.0.1:8080).
//
// Usage
//
//	deferd task schedule \
//	    --submitter aaaa...aa --nonce 0 --due-height 100 \
//	    --method transfer \
//	    --params '{"asset":"native","to":"bbbb...bb","amount":25}'
//
//	deferd task nonce --account aaaa...aa
//
//	deferd height get
//	deferd height advance
//
//	deferd events --from 0 --limit 50 --filter 'kind == "TaskExecutedErr"'
//
//	deferd balance get --account bbbb...bb
//	deferd balance credit --account aaaa...aa --amount 1000   # development only
//
//	deferd trustfund beneficiaries --grantor aaaa...aa \
//	    --shares '[{"address":"bbbb...bb","weight":2},{"address":"cccc...cc","weight":1}]'
//	deferd trustfund switch --grantor aaaa...aa --kind clock_in_interval --interval 1000
//	deferd trustfund clockin --grantor aaaa...aa
//	deferd trustfund deposit --grantor aaaa...aa --amount 500
//	deferd trustfund withdraw --caller bbbb...bb --grantor aaaa...aa
//	deferd trustfund status --grantor aaaa...aa
//
// Notes
//
//   - Accounts are 32-byte identifiers written as 64 hex characters, with
//     an optional 0x prefix.
//   - A schedule request is rejected with 409 when the nonce does not match
//     the account's expected nonce; query `task nonce` first.
//   - Scheduled tasks execute when `height advance` reaches their due
//     height; outcomes land in the event log, not in the schedule response.
package client
