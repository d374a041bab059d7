// Package supervisor implements the supervisory scan strategy: it polls
// tags from many device records, tracks per-tag quality, evaluates alarm
// limits and surfaces the alarm state into its own memory map.
package supervisor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/device"
	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

// Type is the registry tag for the supervisory device
const Type = "supervisor"

// Quality of a polled tag value.
type Quality int

// Tag quality codes, published under "quality.<tag>".
const (
	QualityGood Quality = iota
	QualityBad
	QualityUncertain
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "GOOD"
	case QualityBad:
		return "BAD"
	case QualityUncertain:
		return "UNCERTAIN"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// Memory addresses for the alarm summary, matching the conventional SCADA
// register block.
var (
	AddrActiveAlarms   = statestore.InputRegister(5100)
	AddrUnackedAlarms  = statestore.InputRegister(5101)
	AddrPolledTagCount = statestore.InputRegister(5102)
)

// TagSpec names one value to poll from another device's memory map
type TagSpec struct {
	Name    string // tag table key, e.g. "turbine_1.speed"
	Device  string // source device name in the state store
	Address string // memory map address on that device
}

// AlarmSpec defines a limit check against one tag
type AlarmSpec struct {
	Name      string
	Tag       string
	HighLimit float64
	LowLimit  float64
	Priority  int // 1=critical .. 4=low
}

// TagValue is the last polled value of one tag
type TagValue struct {
	Name      string
	Value     float64
	Quality   Quality
	UpdatedAt float64 // simulated seconds
	Source    string
}

// AlarmEvent is one active alarm
type AlarmEvent struct {
	Name         string
	Tag          string
	Value        float64
	Limit        float64
	Kind         string // "HIGH" or "LOW"
	Priority     int
	RaisedAt     float64
	Acknowledged bool
}

// Supervisor polls tags and evaluates alarms each scan. The tag table and
// alarm list are readable from other goroutines, so access goes through a
// lock.
type Supervisor struct {
	specs  []TagSpec
	alarms []AlarmSpec

	mu     sync.RWMutex
	tags   map[string]*TagValue
	active map[string]*AlarmEvent
}

// Factory builds the supervisory strategy from device params. Expected
// shape, as decoded from YAML:
//
//	params:
//	  tags:
//	    - {name: turbine_1.speed, device: turbine-plc-1, address: "input_registers[0]"}
//	  alarms:
//	    - {name: turbine_speed_high, tag: turbine_1.speed, high: 3700, low: 0, priority: 1}
func Factory(cfg config.DeviceConfig, _ device.Deps) (device.Strategy, error) {
	specs, err := parseTagSpecs(cfg.Params["tags"])
	if err != nil {
		return nil, errors.WrapInvalid(err, "Supervisor", "Factory", "parse tag specs")
	}
	if len(specs) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Supervisor", "Factory", "at least one tag required")
	}
	alarms, err := parseAlarmSpecs(cfg.Params["alarms"], specs)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Supervisor", "Factory", "parse alarm specs")
	}

	return &Supervisor{
		specs:  specs,
		alarms: alarms,
		tags:   make(map[string]*TagValue, len(specs)),
		active: make(map[string]*AlarmEvent),
	}, nil
}

func parseTagSpecs(raw any) ([]TagSpec, error) {
	list, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: tags must be a list", errors.ErrInvalidConfig)
	}

	specs := make([]TagSpec, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: tag %d is not a mapping", errors.ErrInvalidConfig, i)
		}
		spec := TagSpec{
			Name:    config.GetString(entry, "name", ""),
			Device:  config.GetString(entry, "device", ""),
			Address: config.GetString(entry, "address", ""),
		}
		if spec.Name == "" || spec.Device == "" || spec.Address == "" {
			return nil, fmt.Errorf("%w: tag %d needs name, device and address",
				errors.ErrInvalidConfig, i)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseAlarmSpecs(raw any, tags []TagSpec) ([]AlarmSpec, error) {
	list, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: alarms must be a list", errors.ErrInvalidConfig)
	}

	known := make(map[string]bool, len(tags))
	for _, t := range tags {
		known[t.Name] = true
	}

	specs := make([]AlarmSpec, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: alarm %d is not a mapping", errors.ErrInvalidConfig, i)
		}
		spec := AlarmSpec{
			Name:      config.GetString(entry, "name", ""),
			Tag:       config.GetString(entry, "tag", ""),
			HighLimit: config.GetFloat64(entry, "high", 0),
			LowLimit:  config.GetFloat64(entry, "low", 0),
			Priority:  config.GetInt(entry, "priority", 4),
		}
		if spec.Name == "" || spec.Tag == "" {
			return nil, fmt.Errorf("%w: alarm %d needs name and tag", errors.ErrInvalidConfig, i)
		}
		if !known[spec.Tag] {
			return nil, fmt.Errorf("%w: alarm %s references unknown tag %s",
				errors.ErrInvalidConfig, spec.Name, spec.Tag)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Type implements device.Strategy
func (s *Supervisor) Type() string { return Type }

// Setup seeds the alarm summary registers
func (s *Supervisor) Setup(sc *device.ScanContext) error {
	seed := statestore.MemoryMap{
		AddrActiveAlarms:   statestore.Int(0),
		AddrUnackedAlarms:  statestore.Int(0),
		AddrPolledTagCount: statestore.Int(int64(len(s.specs))),
	}
	if err := sc.Store.BulkWriteMemory(sc.Device, seed); err != nil {
		return errors.Wrap(err, "Supervisor", "Setup", "seed memory map")
	}
	return nil
}

// Scan polls every tag, evaluates alarms and publishes the summary
func (s *Supervisor) Scan(sc *device.ScanContext) error {
	s.mu.Lock()
	s.pollLocked(sc)
	s.evaluateAlarmsLocked(sc.SimTime)
	out := s.summaryLocked()
	s.mu.Unlock()

	if err := sc.Store.BulkWriteMemory(sc.Device, out); err != nil {
		return errors.Wrap(err, "Supervisor", "Scan", "write summary")
	}
	return nil
}

// pollLocked refreshes the tag table from the state store
func (s *Supervisor) pollLocked(sc *device.ScanContext) {
	for _, spec := range s.specs {
		tag := s.tags[spec.Name]
		if tag == nil {
			tag = &TagValue{Name: spec.Name, Source: spec.Device, Quality: QualityUncertain}
			s.tags[spec.Name] = tag
		}

		rec, ok := sc.Store.GetDevice(spec.Device)
		if !ok || !rec.Online {
			tag.Quality = QualityBad
			continue
		}
		val, found := rec.Memory[spec.Address]
		if !found {
			tag.Quality = QualityUncertain
			continue
		}
		tag.Value = val.AsFloat()
		tag.Quality = QualityGood
		tag.UpdatedAt = sc.SimTime
	}
}

// evaluateAlarmsLocked raises and clears alarms against GOOD tags only
func (s *Supervisor) evaluateAlarmsLocked(simTime float64) {
	for _, alarm := range s.alarms {
		tag := s.tags[alarm.Tag]
		if tag == nil || tag.Quality != QualityGood {
			continue
		}

		var kind string
		var limit float64
		switch {
		case tag.Value > alarm.HighLimit:
			kind, limit = "HIGH", alarm.HighLimit
		case tag.Value < alarm.LowLimit:
			kind, limit = "LOW", alarm.LowLimit
		}

		existing := s.active[alarm.Name]
		switch {
		case kind != "" && existing == nil:
			s.active[alarm.Name] = &AlarmEvent{
				Name:     alarm.Name,
				Tag:      alarm.Tag,
				Value:    tag.Value,
				Limit:    limit,
				Kind:     kind,
				Priority: alarm.Priority,
				RaisedAt: simTime,
			}
		case kind == "" && existing != nil:
			delete(s.active, alarm.Name)
		case kind != "" && existing != nil:
			existing.Value = tag.Value
		}
	}
}

// summaryLocked builds the memory map update for this scan
func (s *Supervisor) summaryLocked() statestore.MemoryMap {
	unacked := 0
	for _, a := range s.active {
		if !a.Acknowledged {
			unacked++
		}
	}

	out := statestore.MemoryMap{
		AddrActiveAlarms:  statestore.Int(int64(len(s.active))),
		AddrUnackedAlarms: statestore.Int(int64(unacked)),
	}
	for name, tag := range s.tags {
		out["tag."+name] = statestore.Float(tag.Value)
		out["quality."+name] = statestore.Int(int64(tag.Quality))
	}
	return out
}

// Teardown implements device.Strategy
func (s *Supervisor) Teardown(*device.ScanContext) error { return nil }

// Tag returns the last polled value of one tag
func (s *Supervisor) Tag(name string) (TagValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tag, ok := s.tags[name]
	if !ok {
		return TagValue{}, false
	}
	return *tag, true
}

// ActiveAlarms returns the active alarms sorted by priority then name
func (s *Supervisor) ActiveAlarms() []AlarmEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AlarmEvent, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Acknowledge marks an active alarm as seen by the operator
func (s *Supervisor) Acknowledge(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[name]
	if !ok {
		return false
	}
	a.Acknowledged = true
	return true
}
