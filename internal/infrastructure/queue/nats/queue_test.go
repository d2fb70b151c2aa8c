package nats

import "testing"

func TestProgressSubjectFor(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"batches.ingest", "batches.progress"},
		{"audits.ingest", "audits.progress"},
		{"ingest", "ingest.progress"},
	}
	for _, tc := range cases {
		if got := progressSubjectFor(tc.subject); got != tc.want {
			t.Fatalf("progressSubjectFor(%q) = %q, want %q", tc.subject, got, tc.want)
		}
	}
}
