package buildinfo

import "testing"

func TestCurrentReturnsInjectedMetadata(t *testing.T) {
	originalVersion, originalCommit, originalDate := Version, GitCommit, BuildDate
	Version = "0.9.0-test"
	GitCommit = "deadbeef0001"
	BuildDate = "2026-01-15T00:00:00Z"
	t.Cleanup(func() {
		Version = originalVersion
		GitCommit = originalCommit
		BuildDate = originalDate
	})

	// cmd/sched logs this struct verbatim at startup; Current must reflect
	// whatever -ldflags injected into the package vars.
	info := Current()
	if info.Version != "0.9.0-test" {
		t.Fatalf("expected version \"0.9.0-test\", got %q", info.Version)
	}
	if info.GitCommit != "deadbeef0001" {
		t.Fatalf("expected git commit \"deadbeef0001\", got %q", info.GitCommit)
	}
	if info.BuildDate != "2026-01-15T00:00:00Z" {
		t.Fatalf("expected build date \"2026-01-15T00:00:00Z\", got %q", info.BuildDate)
	}
}
