// Package tracking is an offline experiment logger. A run is a folder with
// the hyperparameters, one JSON line per logged step and a final summary.
package tracking

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	HyperparamsFile = "config.yaml"
	MetricsFile     = "metrics.jsonl"
	SummaryFile     = "summary.json"
)

var (
	ErrOnline   = errors.New("tracking: only offline runs are supported")
	ErrFinished = errors.New("tracking: run is finished")
)

type Config struct {
	Dir     string `env:"ECG_TRACKING_DIR" envDefault:"./tracking"`
	Project string `env:"ECG_TRACKING_PROJECT" envDefault:"ecg-pretrain"`
	Entity  string `env:"ECG_TRACKING_ENTITY"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("tracking config: %w", err)
	}
	return cfg, nil
}

type Run struct {
	mu       sync.Mutex
	id       string
	dir      string
	name     string
	project  string
	entity   string
	started  time.Time
	metrics  *os.File
	enc      *json.Encoder
	steps    int
	params   map[string]int
	summary  map[string]float64
	finished bool
}

func NewRun(cfg Config, name, project, entity string, offline bool) (*Run, error) {
	if !offline {
		return nil, ErrOnline
	}
	if project == "" {
		project = cfg.Project
	}
	if entity == "" {
		entity = cfg.Entity
	}
	id, err := runID()
	if err != nil {
		return nil, err
	}
	var started = time.Now()
	var dir = filepath.Join(cfg.Dir, fmt.Sprintf("offline-run-%v-%v", started.Format("20060102_150405"), id))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, MetricsFile))
	if err != nil {
		return nil, err
	}
	return &Run{
		id:      id,
		dir:     dir,
		name:    name,
		project: project,
		entity:  entity,
		started: started,
		metrics: f,
		enc:     json.NewEncoder(f),
		params:  make(map[string]int),
		summary: make(map[string]float64),
	}, nil
}

func runID() (string, error) {
	var b = make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (r *Run) ID() string      { return r.id }
func (r *Run) Dir() string     { return r.dir }
func (r *Run) Name() string    { return r.name }
func (r *Run) Project() string { return r.project }

// LogHyperparams writes v as YAML. A later call replaces the file.
func (r *Run) LogHyperparams(v interface{}) error {
	buf, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.dir, HyperparamsFile), buf, 0o644)
}

// Watch records the parameter counts of the model parts.
func (r *Run) Watch(params map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int
	for k, v := range params {
		r.params[k] = v
		if k != "total" {
			total += v
		}
	}
	if _, ok := params["total"]; !ok {
		r.params["total"] = total
	}
}

// LogMetrics appends one line {"_step": step, name: value...}. The last
// value of every metric goes into the summary.
func (r *Run) LogMetrics(step int, metrics map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrFinished
	}
	var line = make(map[string]interface{}, len(metrics)+1)
	for k, v := range metrics {
		line[k] = jsonFloat(v)
		r.summary[k] = v
	}
	line["_step"] = step
	r.steps++
	return r.enc.Encode(line)
}

type summary struct {
	Name    string                 `json:"name"`
	Project string                 `json:"project"`
	Entity  string                 `json:"entity,omitempty"`
	Mode    string                 `json:"mode"`
	Started time.Time              `json:"started"`
	Runtime float64                `json:"runtime_seconds"`
	Steps   int                    `json:"steps"`
	Params  map[string]int         `json:"params,omitempty"`
	Metrics map[string]interface{} `json:"metrics"`
	Keys    []string               `json:"keys"`
}

func (r *Run) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.finished = true

	var s = summary{
		Name:    r.name,
		Project: r.project,
		Entity:  r.entity,
		Mode:    "offline",
		Started: r.started,
		Runtime: time.Since(r.started).Seconds(),
		Steps:   r.steps,
		Params:  r.params,
		Metrics: make(map[string]interface{}, len(r.summary)),
	}
	for k, v := range r.summary {
		s.Metrics[k] = jsonFloat(v)
		s.Keys = append(s.Keys, k)
	}
	sort.Strings(s.Keys)

	var err = r.metrics.Close()
	buf, marshalErr := json.MarshalIndent(&s, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	if writeErr := os.WriteFile(filepath.Join(r.dir, SummaryFile), buf, 0o644); writeErr != nil {
		return writeErr
	}
	return err
}

// jsonFloat keeps NaN and infinities, which encoding/json rejects, as strings.
func jsonFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprint(v)
	}
	return v
}
