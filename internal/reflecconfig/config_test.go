package reflecconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadINIOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reflec2.ini")
	contents := `
[client]
host = upstream.example.com
port = 9001

[server]
bindings = 0.0.0.0:9090
client_max = 250
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := Default()
	if err := LoadINI(path, &opts); err != nil {
		t.Fatalf("LoadINI: %v", err)
	}

	if opts.Client.Host != "upstream.example.com" || opts.Client.Port != 9001 {
		t.Errorf("client = %+v", opts.Client)
	}
	if opts.Server.Bindings != "0.0.0.0:9090" || opts.Server.ClientMax != 250 {
		t.Errorf("server = %+v", opts.Server)
	}
	// Untouched keys keep their defaults.
	if opts.Client.Path != "/" || opts.Client.BufSize != 16 {
		t.Errorf("client defaults clobbered: %+v", opts.Client)
	}
}

func TestLoadINIMissingFileIsNotAnError(t *testing.T) {
	opts := Default()
	if err := LoadINI(filepath.Join(t.TempDir(), "nope.ini"), &opts); err != nil {
		t.Fatalf("LoadINI on missing file: %v", err)
	}
	if opts != Default() {
		t.Errorf("opts mutated by missing file: %+v", opts)
	}
}

func TestApplyPositionalHostPortPath(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Client
		wantErr bool
	}{
		{
			name: "host only",
			args: []string{"stream.example.com"},
			want: Client{Host: "stream.example.com", Port: 8888, Path: "/"},
		},
		{
			name: "host colon port",
			args: []string{"stream.example.com:9000"},
			want: Client{Host: "stream.example.com", Port: 9000, Path: "/"},
		},
		{
			name: "url form",
			args: []string{"mms://stream.example.com:9000/live.wma"},
			want: Client{Host: "stream.example.com", Port: 9000, Path: "/live.wma"},
		},
		{
			name: "positional host port path",
			args: []string{"stream.example.com", "9000", "/live.wma"},
			want: Client{Host: "stream.example.com", Port: 9000, Path: "/live.wma"},
		},
		{
			name:    "bad explicit port",
			args:    []string{"stream.example.com", "notaport"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Client{Host: "localhost", Port: 8888, Path: "/"}
			err := ApplyPositional(tt.args, &c)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyPositional: %v", err)
			}
			if c != tt.want {
				t.Errorf("client = %+v, want %+v", c, tt.want)
			}
		})
	}
}

func TestParseBindings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Binding
	}{
		{"port only", ":8080", []Binding{{Addr: "", Port: 8080}}},
		{"host and port", "host:80", []Binding{{Addr: "host", Port: 80}}},
		{"bare integer is a port", "1935", []Binding{{Addr: "", Port: 1935}}},
		{"bare integer 9090", "9090", []Binding{{Addr: "", Port: 9090}}},
		{"garbage falls back", "abc", []Binding{{Addr: "", Port: 8080}}},
		{"empty falls back", "", []Binding{{Addr: "", Port: 8080}}},
		{
			"multiple bindings",
			":8080,admin.local:9000",
			[]Binding{{Addr: "", Port: 8080}, {Addr: "admin.local", Port: 9000}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseBindings(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("binding %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
