package deps

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

func fakeRun(outputs map[string]string, calls *int) RunFunc {
	return func(_ context.Context, name string, _ ...string) ([]byte, []byte, error) {
		if calls != nil {
			*calls++
		}
		out, ok := outputs[name]
		if !ok {
			return nil, nil, &exec.Error{Name: name, Err: exec.ErrNotFound}
		}
		return []byte(out), nil, nil
	}
}

func TestProbeMissingExecutableIsNotAnError(t *testing.T) {
	p := NewProber(ProberConfig{Run: fakeRun(nil, nil)})
	line, ok, err := p.Probe(context.Background(), "python")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if ok || line != "" {
		t.Fatalf("Probe() = (%q, %v), want unavailable", line, ok)
	}
}

func TestProbeReturnsFirstLineAndFallsBackToStderr(t *testing.T) {
	p := NewProber(ProberConfig{Run: func(_ context.Context, name string, _ ...string) ([]byte, []byte, error) {
		if name == "python2" {
			return nil, []byte("Python 2.7.18\n"), nil
		}
		return []byte("\nPython 3.9.6\nextra\n"), nil, nil
	}})
	line, ok, err := p.Probe(context.Background(), "python")
	if err != nil || !ok || line != "Python 3.9.6" {
		t.Fatalf("Probe(python) = (%q, %v, %v)", line, ok, err)
	}
	line, ok, err = p.Probe(context.Background(), "python2")
	if err != nil || !ok || line != "Python 2.7.18" {
		t.Fatalf("Probe(python2) = (%q, %v, %v)", line, ok, err)
	}
}

func TestProbeCachesUntilForgotten(t *testing.T) {
	calls := 0
	p := NewProber(ProberConfig{Run: fakeRun(map[string]string{"python": "Python 3.9.6"}, &calls)})
	for i := 0; i < 3; i++ {
		if _, _, err := p.Probe(context.Background(), "python"); err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	p.Forget("python")
	if _, _, err := p.Probe(context.Background(), "python"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls after Forget = %d, want 2", calls)
	}
}

func TestProbeSurfacesUnexpectedErrors(t *testing.T) {
	want := errors.New("permission denied")
	p := NewProber(ProberConfig{Run: func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, nil, want
	}})
	if _, _, err := p.Probe(context.Background(), "python"); !errors.Is(err, want) {
		t.Fatalf("Probe() error = %v, want %v", err, want)
	}
}

func TestIsSatisfied(t *testing.T) {
	d := Descriptor{Key: KeyPython, Name: "python", VersionMajor: 3, VersionMinor: 9}
	cases := []struct {
		output string
		want   bool
	}{
		{"Python 3.8.10", false},
		{"Python 3.9.6", true},
		{"Python 3.12.1", true},
		{"Python was not found; run without arguments to install from the Microsoft Store 3.0", false},
	}
	for _, tc := range cases {
		p := NewProber(ProberConfig{Run: fakeRun(map[string]string{"python": tc.output}, nil)})
		got, err := p.IsSatisfied(context.Background(), d)
		if err != nil {
			t.Fatalf("IsSatisfied(%q) error = %v", tc.output, err)
		}
		if got != tc.want {
			t.Fatalf("IsSatisfied(%q) = %v, want %v", tc.output, got, tc.want)
		}
	}
}

func TestIsSatisfiedMissingCommand(t *testing.T) {
	p := NewProber(ProberConfig{Run: fakeRun(nil, nil)})
	got, err := p.IsSatisfied(context.Background(), Descriptor{Name: "python", VersionMajor: 3, VersionMinor: 9})
	if err != nil {
		t.Fatalf("IsSatisfied() error = %v", err)
	}
	if got {
		t.Fatalf("IsSatisfied() = true for missing command")
	}
}

func TestIsSatisfiedUnparseableOutputIsHardFailure(t *testing.T) {
	p := NewProber(ProberConfig{Run: fakeRun(map[string]string{"python": "unexpected banner"}, nil)})
	_, err := p.IsSatisfied(context.Background(), Descriptor{Name: "python", VersionMajor: 3})
	if !errors.Is(err, ErrVersionParse) {
		t.Fatalf("IsSatisfied() error = %v, want ErrVersionParse", err)
	}
}

func TestIsSatisfiedThresholdProperty(t *testing.T) {
	for major := 2; major <= 4; major++ {
		for minor := 0; minor <= 12; minor += 3 {
			out := fmt.Sprintf("Python %d.%d.1", major, minor)
			p := NewProber(ProberConfig{Run: fakeRun(map[string]string{"python": out}, nil)})
			got, err := p.IsSatisfied(context.Background(), Descriptor{Name: "python", VersionMajor: 3, VersionMinor: 6})
			if err != nil {
				t.Fatalf("IsSatisfied(%q) error = %v", out, err)
			}
			want := major > 3 || (major == 3 && minor >= 6)
			if got != want {
				t.Fatalf("IsSatisfied(%q) = %v, want %v", out, got, want)
			}
		}
	}
}
