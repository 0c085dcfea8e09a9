package profitfloor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestRelativeFloor(t *testing.T) {
	tests := []struct {
		highest string
		invest  string
		want    string // empty means inactive
	}{
		{"10", "10", ""},
		{"49", "10", ""},
		{"49.999", "10", ""},
		{"50", "10", "20"},
		{"55", "10", "20"},
		{"99", "10", "20"},
		{"100", "10", "50"},
		{"199.99", "10", "50"},
		{"250", "10", "100"},
		{"1000", "10", "500"},
		{"500", "100", "200"},
		{"2500", "100", "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.highest+"/"+tt.invest, func(t *testing.T) {
			floor, ok := Relative{}.Floor(d(tt.highest), d(tt.invest))
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.True(t, floor.Equal(d(tt.want)), "got %s want %s", floor, tt.want)
		})
	}
}

func TestRelativeFloorInactiveBelowFiveX(t *testing.T) {
	invest := d("10")
	for h := 0; h < 50; h++ {
		_, ok := Relative{}.Floor(decimal.NewFromInt(int64(h)), invest)
		assert.False(t, ok, "highest=%d", h)
	}
}

func TestRelativeFloorNonDecreasing(t *testing.T) {
	for _, invest := range []string{"1", "7.5", "10", "333"} {
		inv := d(invest)
		prev := decimal.Zero
		for h := 0; h <= 20000; h += 7 {
			floor, ok := Relative{}.Floor(decimal.NewFromInt(int64(h)), inv)
			if !ok {
				floor = decimal.Zero
			}
			assert.False(t, floor.LessThan(prev), "invest=%s h=%d floor=%s prev=%s", invest, h, floor, prev)
			prev = floor
		}
	}
}

func TestRelativeFloorZeroInvestInactive(t *testing.T) {
	_, ok := Relative{}.Floor(d("1000"), decimal.Zero)
	assert.False(t, ok)
}

func TestShouldSellMonotonicInCurrent(t *testing.T) {
	highest, invest := d("55"), d("10")
	require.True(t, ShouldSell(Relative{}, d("20"), highest, invest), "boundary is inclusive")
	require.False(t, ShouldSell(Relative{}, d("20.01"), highest, invest))
	for p := 20; p >= 0; p-- {
		assert.True(t, ShouldSell(Relative{}, decimal.NewFromInt(int64(p)), highest, invest), "price=%d", p)
	}
}

func TestShouldSellInactiveFloor(t *testing.T) {
	assert.False(t, ShouldSell(Relative{}, d("0"), d("30"), d("10")))
}

func TestFixedFloor(t *testing.T) {
	tests := []struct {
		highest string
		want    string
	}{
		{"49", ""},
		{"50", "20"},
		{"99", "20"},
		{"100", "50"},
		{"250", "100"},
	}
	for _, tt := range tests {
		floor, ok := Fixed{}.Floor(d(tt.highest), d("1000"))
		if tt.want == "" {
			assert.False(t, ok, tt.highest)
			continue
		}
		require.True(t, ok, tt.highest)
		assert.True(t, floor.Equal(d(tt.want)), "highest=%s got %s", tt.highest, floor)
	}
}

func TestByName(t *testing.T) {
	p, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, "relative", p.Name())

	p, err = ByName("fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", p.Name())

	_, err = ByName("trailing")
	assert.Error(t, err)
}
