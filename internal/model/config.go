package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	// LoopInfinite is the run count of a watch mode session.
	LoopInfinite = -1

	DefaultFsURL      = "/tmp/es"
	DefaultUpdateRate = "15m"
	DefaultWorkers    = 4
	DefaultRestURL    = "127.0.0.1:8080"
	DefaultESURL      = "http://127.0.0.1:9200"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Settings"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

// Settings of a single crawl job. A value is never modified once loaded.
type Settings struct {
	Name          string        `json:"name" yaml:"name"`
	Fs            Fs            `json:"fs" yaml:"fs"`
	Server        *Server       `json:"server,omitempty" yaml:"server,omitempty"`
	Elasticsearch Elasticsearch `json:"elasticsearch" yaml:"elasticsearch"`
	Rest          Rest          `json:"rest" yaml:"rest"`
}

// Fs describes what is crawled and how documents are built.
type Fs struct {
	URL          string   `json:"url" yaml:"url"`
	UpdateRate   string   `json:"update_rate" yaml:"update_rate"`               // 1d2h3m4s
	Schedule     string   `json:"schedule,omitempty" yaml:"schedule,omitempty"` // cron, replaces update_rate
	Includes     []string `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes     []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	Checksum     string   `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	XMLSupport   bool     `json:"xml_support" yaml:"xml_support"`
	JSONSupport  bool     `json:"json_support" yaml:"json_support"`
	IndexContent bool     `json:"index_content" yaml:"index_content"`
	IndexFolders bool     `json:"index_folders" yaml:"index_folders"`
	AddFilesize  bool     `json:"add_filesize" yaml:"add_filesize"`
	IgnoreAbove  *int64   `json:"ignore_above,omitempty" yaml:"ignore_above,omitempty"`
	Workers      int      `json:"workers" yaml:"workers"`
}

// Server is the remote end of ssh and ftp crawls.
type Server struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	PEMPath  string `json:"pem_path,omitempty" yaml:"pem_path,omitempty"`
	// KnownHosts is an OpenSSH known_hosts file checked by the ssh
	// protocol. Host keys are not verified when it is empty.
	KnownHosts string   `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`
	Protocol   Protocol `json:"protocol" yaml:"protocol"`
}

type Elasticsearch struct {
	URLs        []string `json:"urls" yaml:"urls"`
	Index       string   `json:"index,omitempty" yaml:"index,omitempty"`
	IndexFolder string   `json:"index_folder,omitempty" yaml:"index_folder,omitempty"`
	Username    string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password    string   `json:"password,omitempty" yaml:"password,omitempty"`
	APIKey      string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

type Rest struct {
	URL string `json:"url" yaml:"url"`
}

// Protocol returns the access protocol, server-less settings are always local.
func (s Settings) Protocol() Protocol {
	if s.Server == nil || s.Server.Protocol == "" {
		return ProtocolLocal
	}
	return s.Server.Protocol
}

// Index returns the name of the documents index.
func (s Settings) Index() string {
	if s.Elasticsearch.Index != "" {
		return s.Elasticsearch.Index
	}
	return s.Name
}

// IndexFolder returns the name of the folders index.
func (s Settings) IndexFolder() string {
	if s.Elasticsearch.IndexFolder != "" {
		return s.Elasticsearch.IndexFolder
	}
	return s.Name + "_folder"
}

// DefaultSettings returns settings equal to what LoadSettings returns for a
// file containing only the job name.
func DefaultSettings(name string) Settings {
	return Settings{
		Name: name,
		Fs: Fs{
			URL:          DefaultFsURL,
			UpdateRate:   DefaultUpdateRate,
			IndexContent: true,
			IndexFolders: true,
			AddFilesize:  true,
			Workers:      DefaultWorkers,
		},
		Elasticsearch: Elasticsearch{
			URLs: []string{DefaultESURL},
		},
		Rest: Rest{
			URL: DefaultRestURL,
		},
	}
}

// LoadSettings validates YAML from r against the CUE schema and decodes it.
func LoadSettings(r io.Reader) (Settings, error) {
	yamlFile, err := yaml.Extract("_settings.yaml", r)
	if err != nil {
		return Settings{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Settings{}, err
	}

	var out Settings
	if err := unified.Decode(&out); err != nil {
		return Settings{}, err
	}
	return out, nil
}
