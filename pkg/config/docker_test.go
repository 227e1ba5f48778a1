package config

import "testing"

func TestResolveHost(t *testing.T) {
	tests := []struct {
		host        string
		inContainer bool
		want        string
	}{
		{"localhost", true, dockerHostAlias},
		{"127.0.0.1", true, dockerHostAlias},
		{"::1", true, dockerHostAlias},
		{"localhost", false, "localhost"},
		{"pg.internal", true, "pg.internal"},
		{"", true, ""},
		{dockerHostAlias, true, dockerHostAlias},
	}

	for _, tt := range tests {
		if got := resolveHost(tt.host, tt.inContainer); got != tt.want {
			t.Errorf("resolveHost(%q, %v) = %q, want %q", tt.host, tt.inContainer, got, tt.want)
		}
	}
}

func TestResolveHostForDocker_MatchesEnvironment(t *testing.T) {
	want := "localhost"
	if IsRunningInDocker() {
		want = dockerHostAlias
	}
	if got := ResolveHostForDocker("localhost"); got != want {
		t.Errorf("ResolveHostForDocker(localhost) = %q, want %q", got, want)
	}
}
