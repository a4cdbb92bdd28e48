package upstream

import "testing"

func TestBuildInfoPragma(t *testing.T) {
	got := BuildInfoPragma()
	want := "no-cache,rate=1.000000,stream-time=0,stream-offset=0:0,request-context=1,max-duration=0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildStreamingPragma(t *testing.T) {
	got := BuildStreamingPragma()
	want := "no-cache,rate=1.000000,stream-time=0,stream-offset=0:0,request-context=2,max-duration=0," +
		"xPlayStrm=1,stream-switch-count=2,stream-switch-entry=ffff:1:0 ffff:2:0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParsePragmaRoundTripsInfo(t *testing.T) {
	got := ParsePragma(BuildInfoPragma())
	want := map[string]string{
		"no-cache":        "",
		"rate":            "1.000000",
		"stream-time":     "0",
		"stream-offset":   "0:0",
		"request-context": "1",
		"max-duration":    "0",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("key %q = %q, want %q", k, got[k], v)
		}
	}
}

func TestParsePragmaLowercasesKeys(t *testing.T) {
	got := ParsePragma("xPlayStrm=1,NO-CACHE")
	if got["xplaystrm"] != "1" {
		t.Errorf("xplaystrm = %q, want 1", got["xplaystrm"])
	}
	if v, ok := got["no-cache"]; !ok || v != "" {
		t.Errorf("no-cache = %q, %v, want empty present", v, ok)
	}
}

func TestParsePragmaEmpty(t *testing.T) {
	got := ParsePragma("")
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}
