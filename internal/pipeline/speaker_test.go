package pipeline

import (
	"strings"
	"testing"
)

func TestSpeakerExtractor_Extract(t *testing.T) {
	ex := NewSpeakerExtractor("")

	tests := []struct {
		name string
		desc string
		want string
	}{
		{
			name: "self-closing breaks",
			desc: "<b>Speaker</b><br/>Jane Doe, MIT<br/>Abstract...",
			want: "Jane Doe, MIT",
		},
		{
			name: "plain breaks",
			desc: "<p><b>Speaker</b><br>John Smith, KTH<br>Abstract</p>",
			want: "John Smith, KTH",
		},
		{
			name: "spaced self-closing break",
			desc: "<b>Speaker</b> <br />  Ada   Lovelace <br />",
			want: "Ada Lovelace",
		},
		{
			name: "nested markup is stripped",
			desc: "<b>Speaker</b><br/><i>Prof.</i> <a href=\"x\">Grace Hopper</a>, Yale<br/>",
			want: "Prof. Grace Hopper, Yale",
		},
		{
			name: "escaped markup is decoded first",
			desc: "&lt;b&gt;Speaker&lt;/b&gt;&lt;br/&gt;Marie Curie, Sorbonne&lt;br/&gt;",
			want: "Marie Curie, Sorbonne",
		},
		{
			name: "text before newline only",
			desc: "<b>Speaker</b><br/>Alan Turing\nAbstract: machines",
			want: "Alan Turing",
		},
		{
			name: "no marker",
			desc: "<b>Abstract</b><br/>Some text<br/>",
			want: "",
		},
		{
			name: "empty description",
			desc: "",
			want: "",
		},
		{
			name: "marker with nothing after",
			desc: "intro <b>Speaker</b><br/><br/>",
			want: "",
		},
		{
			name: "colon after label",
			desc: "<b>Speaker</b>:<br/>Jane Doe<br/>",
			want: "Jane Doe",
		},
		{
			name: "colon inside label line with name",
			desc: "<b>Speaker</b>: Emmy Noether<br/>Abstract",
			want: "Emmy Noether",
		},
		{
			name: "only separators after marker",
			desc: "<b>Speaker</b> : <br/> - <br/>",
			want: "",
		},
		{
			name: "name on marker line keeps its break",
			desc: "<b>Speaker</b> Emmy Noether<br/>Abstract",
			want: "Emmy Noether",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ex.Extract(tt.desc); got != tt.want {
				t.Errorf("Extract = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpeakerExtractor_CapsUnterminatedSpan(t *testing.T) {
	ex := NewSpeakerExtractor("")
	long := strings.Repeat("a", 500)

	got := ex.Extract("<b>Speaker</b><br/>" + long)
	if len(got) != maxSpeakerRunes {
		t.Errorf("len(Extract) = %d, want %d", len(got), maxSpeakerRunes)
	}
}

func TestSpeakerExtractor_CustomMarker(t *testing.T) {
	ex := NewSpeakerExtractor("<strong>Talare</strong>")
	got := ex.Extract("<strong>Talare</strong><br>Sofia Kovalevskaya<br>")
	if got != "Sofia Kovalevskaya" {
		t.Errorf("Extract = %q, want %q", got, "Sofia Kovalevskaya")
	}
	if got := ex.Extract("<b>Speaker</b><br>Someone<br>"); got != "" {
		t.Errorf("default marker should not match a custom extractor, got %q", got)
	}
}
