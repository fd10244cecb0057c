package recipient

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFilterDefaultSegments(t *testing.T) {
	all := []Recipient{
		{Name: "김철수", RegistrationType: "이월", AgeGroup: "20대"},
		{Name: "박영희", RegistrationType: "신규", AgeGroup: "40대"},
		{Name: "이민호", RegistrationType: "재등록", AgeGroup: "30대"},
		{Name: "최지우", RegistrationType: "휴면", AgeGroup: "20대"},
		{Name: "정우성", RegistrationType: " 신규 ", AgeGroup: "30대"},
	}

	got := Names(Filter(all, DefaultFilter()))
	want := []string{"김철수", "이민호", "정우성"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filtered names (-want +got):\n%s", diff)
	}
}

func TestFilterEmpty(t *testing.T) {
	got := Filter(nil, DefaultFilter())
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}

	none := Filter([]Recipient{{Name: "a", RegistrationType: "이월", AgeGroup: "20대"}}, TargetFilter{})
	if len(none) != 0 {
		t.Errorf("empty filter should accept nothing, got %v", none)
	}
}

func TestAccepts(t *testing.T) {
	f := DefaultFilter()
	tests := []struct {
		r    Recipient
		want bool
	}{
		{Recipient{RegistrationType: "이월", AgeGroup: "20대"}, true},
		{Recipient{RegistrationType: "이월", AgeGroup: "40대"}, false},
		{Recipient{RegistrationType: "", AgeGroup: "20대"}, false},
		{Recipient{RegistrationType: "신규", AgeGroup: "30대"}, true},
	}
	for _, tt := range tests {
		if got := f.Accepts(tt.r); got != tt.want {
			t.Errorf("Accepts(%+v) = %v, want %v", tt.r, got, tt.want)
		}
	}
}
