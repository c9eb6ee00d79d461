package shared

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2024-02")
	require.NoError(t, err)
	require.Equal(t, Period{Year: 2024, Month: time.February}, p)
	require.Equal(t, "2024-02", p.String())
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), p.End())
	require.Equal(t, Period{Year: 2024, Month: time.March}, p.Next())

	for _, bad := range []string{"", "2024-13", "24-02", "2024/02"} {
		_, err := ParsePeriod(bad)
		require.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestPeriodsBetween(t *testing.T) {
	start := time.Date(2023, 12, 28, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	require.Equal(t, []Period{
		{Year: 2023, Month: time.December},
		{Year: 2024, Month: time.January},
		{Year: 2024, Month: time.February},
	}, PeriodsBetween(start, end))

	require.Equal(t, []Period{{Year: 2023, Month: time.December}}, PeriodsBetween(start, start))
	require.Nil(t, PeriodsBetween(end, start))
}

func TestPeriodJSON(t *testing.T) {
	var payload struct {
		Period Period `json:"period"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"period":"2024-07"}`), &payload))
	require.Equal(t, Period{Year: 2024, Month: time.July}, payload.Period)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"period":"2024-07"}`, string(out))

	require.ErrorIs(t, json.Unmarshal([]byte(`{"period":"July"}`), &payload), ErrValidation)
}

func TestParseDayAndDay(t *testing.T) {
	d, err := ParseDay("2024-03-05")
	require.NoError(t, err)
	require.True(t, PeriodOf(d).Contains(d))

	jakarta := time.FixedZone("WIB", 7*3600)
	late := time.Date(2024, 3, 5, 23, 30, 0, 0, jakarta)
	require.Equal(t, d, Day(late))

	_, err = ParseDay("05/03/2024")
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Name string `validate:"required,max=5"`
	}
	require.NoError(t, ValidateStruct(input{Name: "ok"}))
	err := ValidateStruct(input{})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "Name(required)")
}
