// Package database holds small helpers shared by the sqlite-backed stores.
package database

import (
	"database/sql"
	"sync"
)

// StmtCache memoizes prepared statements by query text so hot store paths
// do not re-prepare on every call.
type StmtCache struct {
	db *sql.DB
	m  sync.Map // query string -> *sql.Stmt
}

func NewStmtCache(db *sql.DB) *StmtCache {
	return &StmtCache{db: db}
}

func (sc *StmtCache) Prepare(query string) (*sql.Stmt, error) {
	if cached, ok := sc.m.Load(query); ok {
		return cached.(*sql.Stmt), nil
	}
	stmt, err := sc.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	sc.m.Store(query, stmt)
	return stmt, nil
}

// MustPrepare panics on a malformed query; all queries here are compiled-in
// constants, so a failure is a programming error, not a runtime condition.
func (sc *StmtCache) MustPrepare(query string) *sql.Stmt {
	stmt, err := sc.Prepare(query)
	if err != nil {
		panic(err)
	}
	return stmt
}

func (sc *StmtCache) Clear() {
	sc.m.Range(func(k, v interface{}) bool {
		_ = v.(*sql.Stmt).Close()
		sc.m.Delete(k)
		return true
	})
}
