package types

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{name: "zulu", in: "2025-01-15T10:30:00Z", want: want},
		{name: "offset", in: "2025-01-15T10:30:00+00:00", want: want},
		{name: "other offset", in: "2025-01-15T12:30:00+02:00", want: want},
		{name: "microseconds", in: "2025-01-15T10:30:00.123456Z", want: want.Add(123456 * time.Microsecond)},
		{name: "naive", in: "2025-01-15T10:30:00", want: want},
		{name: "space separator", in: "2025-01-15 10:30:00+00:00", want: want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}

	_, err := ParseTime("yesterday")
	assert.Error(t, err)
	_, err = ParseTime("")
	assert.Error(t, err)
}

func TestTimeJSON(t *testing.T) {
	var v struct {
		At       Time  `json:"at"`
		Optional *Time `json:"optional"`
		Empty    Time  `json:"empty"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":"2025-01-15T10:30:00Z","optional":null,"empty":""}`), &v))

	assert.Equal(t, 2025, v.At.Year())
	assert.Nil(t, v.Optional)
	assert.True(t, v.Empty.IsZero())
	assert.Nil(t, v.Empty.Ptr())
	require.NotNil(t, v.At.Ptr())

	out, err := json.Marshal(v.At)
	require.NoError(t, err)
	assert.Equal(t, `"2025-01-15T10:30:00Z"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"at":12}`), &v))
}

func TestParseRateLimit(t *testing.T) {
	h := http.Header{}
	_, ok := ParseRateLimit(h)
	assert.False(t, ok)

	h.Set(HeaderRateLimitLimit, "100")
	h.Set(HeaderRateLimitRemaining, "7")
	h.Set(HeaderRateLimitReset, "1700000000")

	info, ok := ParseRateLimit(h)
	require.True(t, ok)
	assert.Equal(t, 100, info.Limit)
	assert.Equal(t, 7, info.Remaining)
	assert.Equal(t, int64(1700000000), info.ResetAt.Unix())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, DefaultRetryAfter, ParseRetryAfter("", now))
	assert.Equal(t, DefaultRetryAfter, ParseRetryAfter("soon", now))
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
