package option_test

import (
	"testing"
	"time"

	"github.com/engineerpark/cdulog/pkg/db"
	"github.com/engineerpark/cdulog/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	ID        int64 `gorm:"primaryKey"`
	Kind      string
	CreatedAt time.Time
}

func TestOptionsCompose(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&event{}))

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	rows := []event{
		{ID: 1, Kind: "a", CreatedAt: base},
		{ID: 2, Kind: "a", CreatedAt: base.Add(time.Hour)},
		{ID: 3, Kind: "b", CreatedAt: base.Add(time.Hour)},
		{ID: 4, Kind: "a", CreatedAt: base.Add(2 * time.Hour)},
	}
	require.NoError(t, conn.Create(&rows).Error)

	list := func(opts ...option.QueryOption) []int64 {
		var ids []int64
		require.NoError(t, option.Apply(conn.Model(&event{}), opts...).Pluck("id", &ids).Error)
		return ids
	}
	newest := option.WithOrder("created_at desc, id desc")

	assert.Equal(t, []int64{4, 3, 2, 1}, list(newest, option.Equal("kind", "")))
	assert.Equal(t, []int64{4, 2, 1}, list(newest, option.Equal("kind", "a")))
	assert.Equal(t, []int64{2, 1}, list(newest, option.OlderThan("created_at", "id", base.Add(time.Hour), int64(3)), option.Equal("kind", "a")))

	from, to := base.Add(time.Minute), base.Add(time.Hour)
	assert.Equal(t, []int64{3, 2}, list(newest, option.Within("created_at", &from, &to)))
	assert.Equal(t, []int64{4}, list(newest, option.When(true, option.WithLimit(1)), option.When(false, option.Equal("kind", "b"))))
	assert.Equal(t, []int64{2, 1}, list(newest, option.Before("id", int64(3))))
}
