package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

var (
	ErrMissingID   = errors.New("store: missing id")
	ErrUnknownKind = errors.New("store: unknown kind")
)

// Operation is the kind of mutation a change event reports.
type Operation int

const (
	Created Operation = iota
	Updated
	Deleted
)

func (o Operation) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Change describes one completed mutation. Object is a private copy; for
// deletes it holds the last stored value.
type Change struct {
	Kind   model.Kind
	ID     string
	Object model.Object
	Op     Operation
}

// Emitter receives change events synchronously, after the write is durable.
// Events for one kind arrive in mutation order; a subscriber must not write
// the kind it is being notified about from inside the callback.
type Emitter interface {
	EmitObjectChanged(c Change)
}

// Record is one serialized object as held by a backend.
type Record struct {
	ID   string
	Data []byte
}

// Backend is the durable layer under the cache.
type Backend interface {
	Load(kind model.Kind) ([]Record, error)
	Put(kind model.Kind, id string, data []byte) error
	Remove(kind model.Kind, id string) error
	Close() error
}

type collection struct {
	order []string
	docs  map[string][]byte
}

// Store is a type-partitioned object cache over a Backend. Cached documents
// are held serialized, so every read hands out fresh copies.
//
// Writers of one kind are serialized by a per-kind lock held from the
// backend write through the change event. mu guards the cache only and is
// never held across backend writes.
type Store struct {
	backend Backend

	mu          sync.Mutex
	emitter     Emitter
	cache       map[model.Kind]*collection
	generations map[model.Kind]uint64
	writeLocks  map[model.Kind]*sync.Mutex
}

// New creates a store. The emitter may be nil and set later with SetEmitter.
func New(backend Backend, emitter Emitter) *Store {
	return &Store{
		backend:     backend,
		emitter:     emitter,
		cache:       make(map[model.Kind]*collection),
		generations: make(map[model.Kind]uint64),
		writeLocks:  make(map[model.Kind]*sync.Mutex),
	}
}

// Generation returns a counter that grows whenever the cached contents of
// kind change, including the first successful load.
func (s *Store) Generation(kind model.Kind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[kind]
}

func (s *Store) writeLock(kind model.Kind) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.writeLocks[kind]
	if !ok {
		l = &sync.Mutex{}
		s.writeLocks[kind] = l
	}
	return l
}

func (s *Store) SetEmitter(e Emitter) {
	s.mu.Lock()
	s.emitter = e
	s.mu.Unlock()
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

type objectPtr[T any] interface {
	*T
	model.Object
}

func kindOf[T any, P objectPtr[T]]() model.Kind {
	return P(new(T)).ObjectKind()
}

// collectionLocked returns the cached collection for kind, loading it on
// first access. Records that fail to decode as T are logged and skipped. A
// failed load is not cached, so the next access retries it.
// Caller must hold s.mu.
func collectionLocked[T any, P objectPtr[T]](s *Store, kind model.Kind) (*collection, error) {
	if c, ok := s.cache[kind]; ok {
		return c, nil
	}
	records, err := s.backend.Load(kind)
	if err != nil {
		log.Printf("store: load %s: %v", kind, err)
		return nil, fmt.Errorf("store: load %s: %w", kind, err)
	}
	c := &collection{docs: make(map[string][]byte)}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	for _, rec := range records {
		obj := P(new(T))
		if err := json.Unmarshal(rec.Data, obj); err != nil {
			log.Printf("store: skip %s/%s: %v", kind, rec.ID, err)
			continue
		}
		if obj.ObjectID() == "" {
			obj.SetObjectID(rec.ID)
		}
		id := obj.ObjectID()
		if _, dup := c.docs[id]; !dup {
			c.order = append(c.order, id)
		}
		c.docs[id] = rec.Data
	}
	s.cache[kind] = c
	s.generations[kind]++
	return c, nil
}

func decode[T any, P objectPtr[T]](data []byte) P {
	obj := P(new(T))
	if err := json.Unmarshal(data, obj); err != nil {
		// Only documents that already decoded once reach here.
		log.Printf("store: decode cached %T: %v", obj, err)
	}
	return obj
}

// GetAll returns copies of every stored object of type T. The result is
// empty, never nil, when nothing is stored or the backend cannot be read.
func GetAll[T any, P objectPtr[T]](s *Store) []P {
	kind := kindOf[T, P]()
	s.mu.Lock()
	c, err := collectionLocked[T, P](s, kind)
	if err != nil {
		s.mu.Unlock()
		return []P{}
	}
	docs := make([][]byte, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, c.docs[id])
	}
	s.mu.Unlock()

	out := make([]P, 0, len(docs))
	for _, d := range docs {
		out = append(out, decode[T, P](d))
	}
	return out
}

// Get returns a copy of the object with the given id.
func Get[T any, P objectPtr[T]](s *Store, id string) (P, bool) {
	kind := kindOf[T, P]()
	s.mu.Lock()
	c, err := collectionLocked[T, P](s, kind)
	if err != nil {
		s.mu.Unlock()
		return nil, false
	}
	data, ok := c.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return decode[T, P](data), true
}

// Save stores obj, assigning a new id when it has none, and returns the id.
// When persistent, the document is written to the backend first; a failed
// write returns "" and leaves the cache untouched.
func Save[T any, P objectPtr[T]](s *Store, obj P, persistent bool) (string, error) {
	kind := kindOf[T, P]()
	if obj.ObjectID() == "" {
		obj.SetObjectID(uuid.NewString())
	}
	id := obj.ObjectID()
	data, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("store: encode %s/%s: %w", kind, id, err)
	}

	w := s.writeLock(kind)
	w.Lock()
	defer w.Unlock()

	s.mu.Lock()
	c, err := collectionLocked[T, P](s, kind)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if persistent {
		if err := s.backend.Put(kind, id, data); err != nil {
			log.Printf("store: write %s/%s: %v", kind, id, err)
			return "", fmt.Errorf("store: write %s/%s: %w", kind, id, err)
		}
	}

	s.mu.Lock()
	op := Updated
	if _, exists := c.docs[id]; !exists {
		op = Created
		c.order = append(c.order, id)
	}
	c.docs[id] = data
	s.generations[kind]++
	emitter := s.emitter
	s.mu.Unlock()

	if emitter != nil {
		emitter.EmitObjectChanged(Change{Kind: kind, ID: id, Object: decode[T, P](data), Op: op})
	}
	return id, nil
}

// Delete removes the object with the given id. Deleting an absent id is a
// no-op and raises no event.
func Delete[T any, P objectPtr[T]](s *Store, id string, persistent bool) error {
	if id == "" {
		return ErrMissingID
	}
	kind := kindOf[T, P]()

	w := s.writeLock(kind)
	w.Lock()
	defer w.Unlock()

	s.mu.Lock()
	c, err := collectionLocked[T, P](s, kind)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	data, exists := c.docs[id]
	s.mu.Unlock()
	if !exists {
		return nil
	}
	if persistent {
		if err := s.backend.Remove(kind, id); err != nil {
			log.Printf("store: remove %s/%s: %v", kind, id, err)
			return fmt.Errorf("store: remove %s/%s: %w", kind, id, err)
		}
	}

	s.mu.Lock()
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	s.generations[kind]++
	emitter := s.emitter
	s.mu.Unlock()

	if emitter != nil {
		emitter.EmitObjectChanged(Change{Kind: kind, ID: id, Object: decode[T, P](data), Op: Deleted})
	}
	return nil
}
