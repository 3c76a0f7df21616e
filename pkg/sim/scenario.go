package sim

import (
	"fmt"
	"net/netip"
	"os"
	"sort"
	"time"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/jihwankim/anthocnet/pkg/config"
)

// LinkSpec declares a usable link between two nodes, by 1-based index.
type LinkSpec struct {
	A int `yaml:"a"`
	B int `yaml:"b"`
}

// LinkEvent changes a link's state at a point in scenario time.
type LinkEvent struct {
	At model.Duration `yaml:"at"`
	A  int           `yaml:"a"`
	B  int           `yaml:"b"`
	Up bool          `yaml:"up"`
}

// TrafficSpec describes one unidirectional packet stream.
type TrafficSpec struct {
	From     int            `yaml:"from"`
	To       int            `yaml:"to"`
	Packets  int            `yaml:"packets"`
	Interval model.Duration `yaml:"interval"`
	Start    model.Duration `yaml:"start"`
}

// Scenario is a declarative simulation run: a topology, link up/down
// events and traffic streams over a bounded duration.
type Scenario struct {
	Name     string         `yaml:"name"`
	Nodes    int            `yaml:"nodes"`
	Step     model.Duration `yaml:"step"`
	Warmup   model.Duration `yaml:"warmup"`
	Duration model.Duration `yaml:"duration"`
	Links    []LinkSpec     `yaml:"links"`
	Events   []LinkEvent    `yaml:"events"`
	Traffic  []TrafficSpec  `yaml:"traffic"`
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s := &Scenario{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the scenario for impossible node references.
func (s *Scenario) Validate() error {
	if s.Nodes < 2 {
		return fmt.Errorf("scenario needs at least 2 nodes")
	}
	if s.Duration <= 0 {
		return fmt.Errorf("scenario duration must be positive")
	}
	check := func(what string, idx int) error {
		if idx < 1 || idx > s.Nodes {
			return fmt.Errorf("%s references node %d, have %d nodes", what, idx, s.Nodes)
		}
		return nil
	}
	for _, l := range s.Links {
		if err := check("link", l.A); err != nil {
			return err
		}
		if err := check("link", l.B); err != nil {
			return err
		}
	}
	for _, ev := range s.Events {
		if err := check("event", ev.A); err != nil {
			return err
		}
		if err := check("event", ev.B); err != nil {
			return err
		}
	}
	for _, tr := range s.Traffic {
		if err := check("traffic", tr.From); err != nil {
			return err
		}
		if err := check("traffic", tr.To); err != nil {
			return err
		}
		if tr.Packets < 1 {
			return fmt.Errorf("traffic stream needs at least 1 packet")
		}
	}
	return nil
}

// NodeAddr returns the address of a node by its 1-based scenario index.
func NodeAddr(i int) netip.Addr {
	var a16 [16]byte
	a16[0] = 0xfd
	a16[14] = byte(i >> 8)
	a16[15] = byte(i)
	return netip.AddrFrom16(a16)
}

// Result summarises one scenario run.
type Result struct {
	Scenario string
	Elapsed  time.Duration
	Stats    Stats
}

// timedSend is one scheduled packet of a traffic stream.
type timedSend struct {
	at       time.Duration
	from, to netip.Addr
	seq      int
}

// Run executes the scenario and returns the medium statistics.
func (s *Scenario) Run(cfg *config.Config, log zerolog.Logger) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	step := time.Duration(s.Step)
	if step <= 0 {
		step = 50 * time.Millisecond
	}

	nw := NewNetwork(cfg, log, false)
	for i := 1; i <= s.Nodes; i++ {
		nw.AddNode(NodeAddr(i))
	}
	for _, l := range s.Links {
		nw.SetLink(NodeAddr(l.A), NodeAddr(l.B), true)
	}

	// schedule all sends up front, ordered by time
	var sends []timedSend
	for _, tr := range s.Traffic {
		for k := 0; k < tr.Packets; k++ {
			sends = append(sends, timedSend{
				at:   time.Duration(s.Warmup) + time.Duration(tr.Start) + time.Duration(k)*time.Duration(tr.Interval),
				from: NodeAddr(tr.From),
				to:   NodeAddr(tr.To),
				seq:  k,
			})
		}
	}
	sort.SliceStable(sends, func(i, j int) bool { return sends[i].at < sends[j].at })

	events := make([]LinkEvent, len(s.Events))
	copy(events, s.Events)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })

	start := nw.Now()
	total := time.Duration(s.Warmup) + time.Duration(s.Duration)
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		for len(events) > 0 && time.Duration(events[0].At)+time.Duration(s.Warmup) <= elapsed {
			ev := events[0]
			events = events[1:]
			nw.SetLink(NodeAddr(ev.A), NodeAddr(ev.B), ev.Up)
			log.Info().Int("a", ev.A).Int("b", ev.B).Bool("up", ev.Up).
				Dur("at", time.Duration(ev.At)).Msg("link state changed")
		}
		for len(sends) > 0 && sends[0].at <= elapsed {
			snd := sends[0]
			sends = sends[1:]
			payload := []byte(fmt.Sprintf("%s->%s #%d", snd.from, snd.to, snd.seq))
			if err := nw.Send(snd.from, snd.to, payload); err != nil {
				return nil, err
			}
		}
		nw.Advance(step, step)
	}

	return &Result{
		Scenario: s.Name,
		Elapsed:  nw.Now().Sub(start),
		Stats:    nw.Stats,
	}, nil
}
