package statestore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ninabarzh/power-and-light-sim/errors"
)

// DeviceInfo describes a device at registration time.
type DeviceInfo struct {
	Name      string
	Type      string
	ID        int
	Protocols []string
}

// DeviceRecord is the externally visible state of one device. Records
// returned by the store are snapshots; mutating one has no effect on the
// store.
type DeviceRecord struct {
	Name       string
	Type       string
	ID         int
	Protocols  []string
	Online     bool
	Memory     MemoryMap
	LastUpdate float64          // simulated seconds of the last update
	Metadata   map[string]int64 // free-form counters (scan cycles, faults)
}

// deviceEntry is the live record plus its own lock. Per-device locking keeps
// unrelated devices from blocking each other.
type deviceEntry struct {
	mu  sync.RWMutex
	rec DeviceRecord
}

// snapshot returns a deep copy of the record. Callers must hold at least a
// read lock on the entry.
func (e *deviceEntry) snapshot() DeviceRecord {
	rec := e.rec
	rec.Protocols = append([]string(nil), e.rec.Protocols...)
	rec.Memory = e.rec.Memory.Clone()
	rec.Metadata = make(map[string]int64, len(e.rec.Metadata))
	for k, v := range e.rec.Metadata {
		rec.Metadata[k] = v
	}
	return rec
}

// Stats holds always-on operation counters for the store.
type Stats struct {
	Reads      int64
	Writes     int64
	BulkReads  int64
	BulkWrites int64
}

// Store is the concurrency-safe mapping from device name to device record.
// The zero value is not usable; create stores with New.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*deviceEntry
	logger  *slog.Logger

	reads      atomic.Int64
	writes     atomic.Int64
	bulkReads  atomic.Int64
	bulkWrites atomic.Int64
}

// New creates an empty state store. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		devices: make(map[string]*deviceEntry),
		logger:  logger.With("component", "statestore"),
	}
}

// entry looks up the live entry for a device name.
func (s *Store) entry(name string) (*deviceEntry, error) {
	s.mu.RLock()
	e, ok := s.devices[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownDevice, name),
			"StateStore", "lookup", "device lookup")
	}
	return e, nil
}

// RegisterDevice registers a device. Registration is idempotent:
// re-registering an existing name overwrites its declared type, id and
// protocol list but preserves the current memory map and metadata.
func (s *Store) RegisterDevice(info DeviceInfo) error {
	if info.Name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("device name must not be empty"),
			"StateStore", "RegisterDevice", "name validation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.devices[info.Name]; ok {
		e.mu.Lock()
		e.rec.Type = info.Type
		e.rec.ID = info.ID
		e.rec.Protocols = append([]string(nil), info.Protocols...)
		e.mu.Unlock()
		s.logger.Debug("device re-registered", "device", info.Name, "type", info.Type)
		return nil
	}

	s.devices[info.Name] = &deviceEntry{
		rec: DeviceRecord{
			Name:      info.Name,
			Type:      info.Type,
			ID:        info.ID,
			Protocols: append([]string(nil), info.Protocols...),
			Memory:    make(MemoryMap),
			Metadata:  make(map[string]int64),
		},
	}
	s.logger.Info("device registered", "device", info.Name, "type", info.Type, "id", info.ID)
	return nil
}

// UnregisterDevice removes a device and its record. Removing an unknown
// device is a no-op.
func (s *Store) UnregisterDevice(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[name]; ok {
		delete(s.devices, name)
		s.logger.Info("device unregistered", "device", name)
	}
}

// ReadMemory returns the value at one address. An unknown address returns
// ok=false with no error; only an unknown device is an error.
func (s *Store) ReadMemory(device, address string) (Value, bool, error) {
	e, err := s.entry(device)
	if err != nil {
		return Value{}, false, err
	}

	e.mu.RLock()
	v, ok := e.rec.Memory[address]
	e.mu.RUnlock()

	s.reads.Add(1)
	return v, ok, nil
}

// WriteMemory sets the value at one address. There is no address whitelist at
// this layer; the device's own scan logic decides which addresses carry
// meaning. An empty address is the one shape always rejected.
func (s *Store) WriteMemory(device, address string, value Value) error {
	if address == "" {
		return errors.WrapInvalid(errors.ErrAddressInvalid,
			"Store", "WriteMemory", "address must not be empty")
	}
	e, err := s.entry(device)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rec.Memory[address] = value
	e.mu.Unlock()

	s.writes.Add(1)
	return nil
}

// BulkReadMemory returns an atomic snapshot of the device's full memory map.
// The snapshot never observes a partially applied bulk write.
func (s *Store) BulkReadMemory(device string) (MemoryMap, error) {
	e, err := s.entry(device)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	m := e.rec.Memory.Clone()
	e.mu.RUnlock()

	s.bulkReads.Add(1)
	return m, nil
}

// BulkWriteMemory merges updates into the device's memory map as a single
// atomic batch relative to concurrent readers. A batch carrying an empty
// address is rejected whole; partial application would break atomicity.
func (s *Store) BulkWriteMemory(device string, updates MemoryMap) error {
	for addr := range updates {
		if addr == "" {
			return errors.WrapInvalid(errors.ErrAddressInvalid,
				"Store", "BulkWriteMemory", "address must not be empty")
		}
	}
	e, err := s.entry(device)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rec.Memory.Merge(updates)
	e.mu.Unlock()

	s.bulkWrites.Add(1)
	return nil
}

// GetDevice returns a snapshot of the device record, or ok=false when the
// device is not registered.
func (s *Store) GetDevice(name string) (DeviceRecord, bool) {
	s.mu.RLock()
	e, ok := s.devices[name]
	s.mu.RUnlock()
	if !ok {
		return DeviceRecord{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot(), true
}

// ListDevices returns the registered device names in sorted order.
func (s *Store) ListDevices() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.devices))
	for name := range s.devices {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}

// SetOnline flips the online flag and stamps the last-update time.
func (s *Store) SetOnline(device string, online bool, simTime float64) error {
	e, err := s.entry(device)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rec.Online = online
	e.rec.LastUpdate = simTime
	e.mu.Unlock()
	return nil
}

// AddMetadata adds deltas to the device's metadata counters and stamps the
// last-update time. Only the owning device's scan cycle should call this.
func (s *Store) AddMetadata(device string, deltas map[string]int64, simTime float64) error {
	e, err := s.entry(device)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for k, d := range deltas {
		e.rec.Metadata[k] += d
	}
	e.rec.LastUpdate = simTime
	e.mu.Unlock()
	return nil
}

// Summary aggregates run-wide device counts for monitoring.
type Summary struct {
	Devices    int
	Online     int
	ByType     map[string]int
	ByProtocol map[string]int
}

// Summarize returns device counts by status, type and protocol.
func (s *Store) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		ByType:     make(map[string]int),
		ByProtocol: make(map[string]int),
	}
	for _, e := range s.devices {
		e.mu.RLock()
		sum.Devices++
		if e.rec.Online {
			sum.Online++
		}
		sum.ByType[e.rec.Type]++
		for _, p := range e.rec.Protocols {
			sum.ByProtocol[p]++
		}
		e.mu.RUnlock()
	}
	return sum
}

// Stats returns the always-on operation counters.
func (s *Store) Stats() Stats {
	return Stats{
		Reads:      s.reads.Load(),
		Writes:     s.writes.Load(),
		BulkReads:  s.bulkReads.Load(),
		BulkWrites: s.bulkWrites.Load(),
	}
}
