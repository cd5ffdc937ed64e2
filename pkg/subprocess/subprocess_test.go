package subprocess

import "testing"

func TestQuoteSafeTokensUnquoted(t *testing.T) {
	got := Quote("adb", "-s", "emulator-5554", "shell")
	want := "adb -s emulator-5554 shell"
	if got != want {
		t.Errorf("Quote() = %q, want %q", got, want)
	}
}

func TestQuoteUnsafeTokenGetsSingleQuoted(t *testing.T) {
	got := Quote("adb", "install", "-r", "/tmp/app with space.apk")
	want := `adb install -r '/tmp/app with space.apk'`
	if got != want {
		t.Errorf("Quote() = %q, want %q", got, want)
	}
}

func TestQuoteEmptyArgQuotesToEmptyPair(t *testing.T) {
	got := Quote("echo", "")
	want := "echo ''"
	if got != want {
		t.Errorf("Quote() = %q, want %q", got, want)
	}
}

func TestQuoteEmbeddedSingleQuoteEscaped(t *testing.T) {
	got := Quote("echo", "it's")
	want := `echo 'it'"'"'s'`
	if got != want {
		t.Errorf("Quote() = %q, want %q", got, want)
	}
}

func TestResultStdoutNormalizesCRLF(t *testing.T) {
	r := Result{stdout: "line one\r\nline two\r\n"}
	want := "line one\nline two\n"
	if got := r.Stdout(); got != want {
		t.Errorf("Stdout() = %q, want %q", got, want)
	}
}

func TestResultStdoutStripsWhenConfigured(t *testing.T) {
	r := Result{stdout: "  padded output  \n", strip: true}
	if got := r.Stdout(); got != "padded output" {
		t.Errorf("Stdout() = %q, want %q", got, "padded output")
	}
}

func TestResultOutLinesSplitsOnNewline(t *testing.T) {
	r := Result{stdout: "a\nb\nc"}
	got := r.OutLines()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("OutLines() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OutLines()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
