package engine

import "testing"

func TestParseCommitHash(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{
			name: "full sha anywhere",
			text: "Committed as 3b1f2a9c4d5e6f708192a3b4c5d6e7f8091a2b3c on branch feature/x.",
			want: "3b1f2a9c4d5e6f708192a3b4c5d6e7f8091a2b3c",
		},
		{
			name: "short sha after commit mention",
			text: "Done. commit hash: 3b1f2a9 pushed to origin.",
			want: "3b1f2a9",
		},
		{
			name: "committed phrasing",
			text: "I committed abc1234def with the requested changes.",
			want: "abc1234def",
		},
		{
			name: "no hash",
			text: "All changes are staged but nothing was committed.",
			want: "",
		},
		{
			name: "ignores non-hex words",
			text: "commit was successful, see the log for details",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseCommitHash(tc.text); got != tc.want {
				t.Errorf("ParseCommitHash(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestParsePR(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		wantURL    string
		wantNumber int
	}{
		{
			name:       "github url",
			text:       "Opened https://github.com/acme/widgets/pull/42 for review.",
			wantURL:    "https://github.com/acme/widgets/pull/42",
			wantNumber: 42,
		},
		{
			name:       "url in parentheses",
			text:       "PR created (https://github.com/acme/widgets/pull/7).",
			wantURL:    "https://github.com/acme/widgets/pull/7",
			wantNumber: 7,
		},
		{
			name:       "gitlab style",
			text:       "See https://gitlab.example.com/acme/widgets/merge_requests/13 please",
			wantURL:    "https://gitlab.example.com/acme/widgets/merge_requests/13",
			wantNumber: 13,
		},
		{
			name:       "bare number reference",
			text:       "Pull request #118 is ready.",
			wantURL:    "",
			wantNumber: 118,
		},
		{
			name:       "pr hash shorthand",
			text:       "opened PR #9",
			wantURL:    "",
			wantNumber: 9,
		},
		{
			name:       "nothing",
			text:       "Changes committed locally; no PR was requested.",
			wantURL:    "",
			wantNumber: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url, number := ParsePR(tc.text)
			if url != tc.wantURL || number != tc.wantNumber {
				t.Errorf("ParsePR(%q) = (%q, %d), want (%q, %d)", tc.text, url, number, tc.wantURL, tc.wantNumber)
			}
		})
	}
}
