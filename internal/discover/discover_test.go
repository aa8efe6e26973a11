package discover

import (
	"os"
	"path/filepath"
	"testing"
)

func writeModule(t *testing.T, dir string) {
	t.Helper()
	mod := "module discoverfixture\n\ngo 1.21\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(mod), 0o644); err != nil {
		t.Fatal(err)
	}
	src := `package fixture

func helperNotATest(x int) int { return x }
`
	if err := os.WriteFile(filepath.Join(dir, "fixture.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	testSrc := `package fixture

import "testing"

func TestAdd(t *testing.T) {
	if helperNotATest(1) != 1 {
		t.Fatal("bad")
	}
}

func BenchmarkAdd(b *testing.B) {
	for i := 0; i < b.N; i++ {
		helperNotATest(1)
	}
}

func TestHelperLooksLikeATestButIsNot(x int) int { return x }
`
	if err := os.WriteFile(filepath.Join(dir, "fixture_test.go"), []byte(testSrc), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFindsTestsAndBenchmarks(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir)

	tests, err := Load(dir, "./...")
	if err != nil {
		t.Fatal(err)
	}

	var sawTest, sawBench bool
	for _, tc := range tests {
		switch {
		case tc.Name == "TestAdd" && !tc.IsBench:
			sawTest = true
		case tc.Name == "BenchmarkAdd" && tc.IsBench:
			sawBench = true
		case tc.Name == "TestHelperLooksLikeATestButIsNot":
			t.Errorf("function with the wrong signature should not be discovered as a test: %+v", tc)
		}
	}
	if !sawTest {
		t.Error("expected to discover TestAdd")
	}
	if !sawBench {
		t.Error("expected to discover BenchmarkAdd")
	}
}
