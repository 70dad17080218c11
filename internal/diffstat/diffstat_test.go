package diffstat

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name         string
		diff         string
		wantAdded    int
		wantRemoved  int
		wantFiles    []string
	}{
		{
			name:      "empty diff",
			diff:      "",
			wantFiles: nil,
		},
		{
			name: "single file single hunk",
			diff: "diff --git a/a.py b/a.py\n" +
				"--- a/a.py\n" +
				"+++ b/a.py\n" +
				"@@ -1,3 +1,2 @@\n" +
				"-import os\n" +
				" import sys\n" +
				" print(sys.argv)\n",
			wantAdded:   0,
			wantRemoved: 1,
			wantFiles:   []string{"a.py"},
		},
		{
			name: "new file",
			diff: "diff --git a/new.go b/new.go\n" +
				"--- /dev/null\n" +
				"+++ b/new.go\n" +
				"@@ -0,0 +1,2 @@\n" +
				"+package main\n" +
				"+func main() {}\n",
			wantAdded: 2,
			wantFiles: []string{"new.go"},
		},
		{
			name: "multiple files deduped",
			diff: "--- a/x.go\n+++ b/x.go\n+one\n--- a/x.go\n+++ b/x.go\n+two\n",
			wantAdded: 2,
			wantFiles: []string{"x.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.diff)
			if got.LinesAdded != tt.wantAdded {
				t.Errorf("LinesAdded = %d, want %d", got.LinesAdded, tt.wantAdded)
			}
			if got.LinesRemoved != tt.wantRemoved {
				t.Errorf("LinesRemoved = %d, want %d", got.LinesRemoved, tt.wantRemoved)
			}
			if len(got.FilesTouched) != len(tt.wantFiles) {
				t.Fatalf("FilesTouched = %v, want %v", got.FilesTouched, tt.wantFiles)
			}
			for i, f := range tt.wantFiles {
				if got.FilesTouched[i] != f {
					t.Errorf("FilesTouched[%d] = %q, want %q", i, got.FilesTouched[i], f)
				}
			}
		})
	}
}
