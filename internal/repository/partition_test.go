package repository

import (
	"cod-tracker/internal/domain"
	"errors"
	"testing"
	"time"
)

func TestPartitionsResolve(t *testing.T) {
	parts := DefaultPartitions()

	tests := []struct {
		mode    domain.GameMode
		year    int
		want    Partition
		wantErr bool
	}{
		{mode: domain.GameModeMwMp, year: 2019, want: Partition{GameMode: domain.GameModeMwMp}},
		{mode: domain.GameModeMwMp, year: 2031, want: Partition{GameMode: domain.GameModeMwMp}},
		{mode: domain.GameModeMwWz, year: 2021, want: Partition{GameMode: domain.GameModeMwWz, Year: 2021}},
		{mode: domain.GameModeMwWz, year: 2019, wantErr: true},
		{mode: domain.GameModeCwMp, year: 2021, wantErr: true},
	}

	for _, tt := range tests {
		got, err := parts.Resolve(tt.mode, tt.year)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownPartition) {
				t.Errorf("Resolve(%s, %d) err = %v, want ErrUnknownPartition", tt.mode, tt.year, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%s, %d) = %v, %v; want %v", tt.mode, tt.year, got, err, tt.want)
		}
	}

	got, err := parts.ResolveTime(domain.GameModeMwWz, time.Date(2022, 12, 31, 23, 59, 0, 0, time.UTC))
	if err != nil || got.Year != 2022 {
		t.Errorf("ResolveTime = %v, %v", got, err)
	}
}

func TestPartitionTables(t *testing.T) {
	yearly := Partition{GameMode: domain.GameModeMwWz, Year: 2020}
	if got := yearly.Table(TierMain); got != "fullmatches_main_mw_wz_2020" {
		t.Errorf("main table = %q", got)
	}
	flat := Partition{GameMode: domain.GameModeMwMp}
	if got := flat.Table(TierBasic); got != "fullmatches_basic_mw_mp" {
		t.Errorf("basic table = %q", got)
	}
	if len(DefaultPartitions().All()) != 5 {
		t.Errorf("All() = %v", DefaultPartitions().All())
	}

	if table, err := MatchesTable(domain.GameModeVgMp); err != nil || table != "matches_vg_mp" {
		t.Errorf("MatchesTable(vg_mp) = %q, %v", table, err)
	}
	if _, err := MatchesTable(domain.GameModeAll); err == nil {
		t.Error("MatchesTable(all) should fail")
	}
}
