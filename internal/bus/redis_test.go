package bus

import "testing"

func TestNextCursorPinsOnFailure(t *testing.T) {
	cases := []struct {
		name    string
		cursor  string
		drained bool
		failed  bool
		want    string
	}{
		{"failure pins to pending from new entries", ">", false, true, "0"},
		{"failure pins to pending from backlog", "0", false, true, "0"},
		{"drained backlog advances to new entries", "0", true, false, ">"},
		{"undrained backlog keeps replaying", "0", false, false, "0"},
		{"new entries stay on new entries", ">", false, false, ">"},
	}
	for _, tc := range cases {
		if got := nextCursor(tc.cursor, tc.drained, tc.failed); got != tc.want {
			t.Fatalf("%s: nextCursor(%q, %v, %v) = %q, want %q",
				tc.name, tc.cursor, tc.drained, tc.failed, got, tc.want)
		}
	}
}
