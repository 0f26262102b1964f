package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

func smells(m dsl.Matcher) {
	// Two consecutive guard clauses returning the same value can usually be
	// merged with ||.
	m.Match(`if $c1 { return $ret }; if $c2 { return $ret }`).
		Report(`two consecutive guards return the same value; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { return $ret }`)

	m.Match(`if $c1 { continue }; if $c2 { continue }`).
		Report(`two consecutive continues; consider merging conditions with ||`)

	// Holding a mutex across network or disk I/O stalls every ingress path.
	m.Match(`$mu.Lock(); $*_; $db.ExecContext($*_); $*_; $mu.Unlock()`).
		Report(`database call while holding a lock; move I/O outside the critical section`)
}
