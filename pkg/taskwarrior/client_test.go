package taskwarrior

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/aide/pkg/taskstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const exportJSON = `[
{"uuid":"f45a05b3-c12e-42e5-9c9c-333333333333","description":"Buy milk","status":"pending","priority":"H","due":"20230101T120000Z","project":"Groceries","tags":["buy","food"]},
{"uuid":"a1","description":"Write report","status":"pending","start":"20230102T080000Z"},
{"uuid":"a2","description":"File taxes","status":"completed","priority":"M","end":"20230103T090000Z"},
{"uuid":"a3","description":"Old idea","status":"deleted"},
{"uuid":"a4","description":"Later","status":"waiting"}
]`

func TestDecodeArray(t *testing.T) {
	tasks, err := Decode(strings.NewReader(exportJSON))
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	task := tasks[0]
	assert.Equal(t, "f45a05b3-c12e-42e5-9c9c-333333333333", task.UUID)
	assert.Equal(t, "Groceries", task.Project)
	assert.Len(t, task.Tags, 2)
	expectedDue, _ := time.Parse(time.RFC3339, "2023-01-01T12:00:00Z")
	require.NotNil(t, task.Due)
	assert.True(t, task.Due.Equal(expectedDue))
	assert.True(t, tasks[1].Started())
	assert.False(t, task.Started())
}

func TestDecodeLines(t *testing.T) {
	input := "{\"uuid\":\"1\",\"description\":\"a\",\"status\":\"pending\"}\n{\"uuid\":\"2\",\"description\":\"b\",\"status\":\"pending\"}\n"
	tasks, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "2", tasks[1].UUID)

	tasks, err = Decode(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = Decode(strings.NewReader(`{"due":"yesterday"}`))
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	tasks, err := Decode(strings.NewReader(exportJSON))
	require.NoError(t, err)

	nt, status, ok := Convert(tasks[0])
	require.True(t, ok)
	assert.Equal(t, taskstore.StatusTodo, status)
	assert.Equal(t, taskstore.PriorityHigh, nt.Priority)
	assert.Equal(t, Source, nt.Source)
	require.NotNil(t, nt.DueDate)

	_, status, _ = Convert(tasks[1])
	assert.Equal(t, taskstore.StatusInProgress, status)

	nt, status, _ = Convert(tasks[2])
	assert.Equal(t, taskstore.StatusDone, status)
	assert.Equal(t, taskstore.PriorityMedium, nt.Priority)

	for _, skipped := range tasks[3:] {
		_, _, ok := Convert(skipped)
		assert.False(t, ok, skipped.Status)
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	store, err := taskstore.Open(ctx, filepath.Join(t.TempDir(), "tasks.db"), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	tasks, err := Decode(strings.NewReader(exportJSON))
	require.NoError(t, err)

	sum, err := Import(ctx, store, tasks, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Summary{Imported: 3, Skipped: 2}, sum)

	open, err := store.List(ctx, taskstore.OpenStatuses...)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "Buy milk", open[0].Description)
	assert.Equal(t, Source, open[0].Source)
	assert.Equal(t, taskstore.StatusInProgress, open[1].Status)
	assert.Equal(t, taskstore.PriorityLow, open[1].Priority)

	done, err := store.List(ctx, taskstore.StatusDone)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "File taxes", done[0].Description)
}
