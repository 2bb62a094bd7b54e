package admin

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/ridge/must/v2"
	"github.com/ridge/pistonen/reactor"
	"golang.org/x/exp/slices"
	"time"
)

const connectionsTable = "connections"

// Connection describes a live connection
type Connection struct {
	ID         uint64    `json:"id"`
	RemoteAddr string    `json:"remoteAddr"`
	Transport  string    `json:"transport"`
	Accepted   time.Time `json:"accepted"`
}

var registrySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		connectionsTable: {
			Name: connectionsTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.UintFieldIndex{Field: "ID"},
				},
				"remote": {
					Name:    "remote",
					Indexer: &memdb.StringFieldIndex{Field: "RemoteAddr"},
				},
			},
		},
	},
}

// Registry is a reactor.Observer tracking live connections in an in-memory
// database. Readers get consistent snapshots without blocking the reactor.
type Registry struct {
	db *memdb.MemDB
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{db: must.OK1(memdb.NewMemDB(registrySchema))}
}

// Accepted implements reactor.Observer
func (r *Registry) Accepted(info reactor.ConnInfo) {
	txn := r.db.Txn(true)
	defer txn.Abort()
	must.OK(txn.Insert(connectionsTable, &Connection{
		ID:         info.ID,
		RemoteAddr: info.RemoteAddr.String(),
		Transport:  string(info.Transport),
		Accepted:   info.Accepted,
	}))
	txn.Commit()
}

// Closed implements reactor.Observer
func (r *Registry) Closed(info reactor.ConnInfo, reason reactor.Reason, err error) {
	txn := r.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(connectionsTable, "id", info.ID); err != nil {
		panic(fmt.Errorf("failed to forget connection %d: %w", info.ID, err))
	}
	txn.Commit()
}

// List returns live connections ordered by ID. A non-empty prefix keeps
// only those whose remote address starts with it.
func (r *Registry) List(prefix string) []Connection {
	txn := r.db.Txn(false)
	var it memdb.ResultIterator
	if prefix == "" {
		it = must.OK1(txn.Get(connectionsTable, "id"))
	} else {
		it = must.OK1(txn.Get(connectionsTable, "remote_prefix", prefix))
	}

	res := []Connection{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		res = append(res, *obj.(*Connection))
	}
	// the id index orders by varint encoding, not by value
	slices.SortFunc(res, func(a, b Connection) bool { return a.ID < b.ID })
	return res
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	it := must.OK1(r.db.Txn(false).Get(connectionsTable, "id"))
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}
