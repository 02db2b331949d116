package commands

import "testing"

func TestIsLoopbackHost(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":   true,
		"localhost":   true,
		"::1":         true,
		" 127.0.0.2 ": true,
		"0.0.0.0":     false,
		"10.0.0.5":    false,
		"":            false,
	}
	for host, want := range cases {
		if got := isLoopbackHost(host); got != want {
			t.Errorf("isLoopbackHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestServeCmd_MissingCredentials(t *testing.T) {
	isolateEnv(t)

	if _, err := executeRoot(t, "", "serve"); err == nil {
		t.Fatal("expected serve to fail without credentials")
	}
}
