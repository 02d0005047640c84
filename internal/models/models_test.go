package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTaskProcessAndTag(t *testing.T) {
	tests := []struct {
		name, process, tag string
	}{
		{"SPLIT_FILE", "SPLIT_FILE", ""},
		{"PROCESS_DATA:DUPLICATE_AND_LOWER:DUPLICATE (abc.dat)", "PROCESS_DATA:DUPLICATE_AND_LOWER:DUPLICATE", "abc.dat"},
		{"JOIN:COMBINE_FILES", "JOIN:COMBINE_FILES", ""},
		{"APPEND (a (b))", "APPEND (a", "b)"},
	}
	for _, tt := range tests {
		task := &TaskExecution{Name: tt.name}
		assert.Equal(t, tt.process, task.Process(), tt.name)
		assert.Equal(t, tt.tag, task.Tag(), tt.name)
	}
}

func TestParseTaskStatus(t *testing.T) {
	assert.Equal(t, TaskStatusCompleted, ParseTaskStatus("COMPLETED"))
	assert.Equal(t, TaskStatusFailed, ParseTaskStatus(" failed "))
	assert.Equal(t, TaskStatusUnknown, ParseTaskStatus("-"))
	assert.Equal(t, TaskStatusUnknown, ParseTaskStatus("WEIRD"))
}

func TestMergeTasksKeepsOrderAndLeavesOriginal(t *testing.T) {
	base := (&Execution{}).MergeTasks([]*TaskExecution{
		{Hash: "aa/1", Status: TaskStatusSubmitted},
		{Hash: "bb/2", Status: TaskStatusSubmitted},
	})

	next := base.MergeTasks([]*TaskExecution{
		{Hash: "cc/3", Status: TaskStatusRunning},
		{Hash: "aa/1", Status: TaskStatusCompleted},
	})

	require.Equal(t, 3, next.TaskCount())
	hashes := []string{}
	for _, task := range next.Tasks() {
		hashes = append(hashes, task.Hash)
	}
	assert.Equal(t, []string{"aa/1", "bb/2", "cc/3"}, hashes)

	got, ok := next.Task("aa/1")
	require.True(t, ok)
	assert.Equal(t, TaskStatusCompleted, got.Status)

	orig, _ := base.Task("aa/1")
	assert.Equal(t, TaskStatusSubmitted, orig.Status)
	assert.Equal(t, 2, base.TaskCount())
}

func TestParamsSetKeepsPosition(t *testing.T) {
	var p Params
	p.Set("input", "data.txt")
	p.Set("count", "12")
	p.Set("input", "other.txt")

	assert.Equal(t, []string{"--input=other.txt", "--count=12"}, p.Args())
	v, ok := p.Get("count")
	assert.True(t, ok)
	assert.Equal(t, "12", v)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, Params{{Key: "a", Value: "x y"}}.Validate())
	assert.Error(t, Params{{Key: "", Value: "x"}}.Validate())
	assert.Error(t, Params{{Key: "a=b", Value: "x"}}.Validate())
	assert.Error(t, Params{{Key: "a b", Value: "x"}}.Validate())
}

func TestParseParam(t *testing.T) {
	p, err := ParseParam("--suffix=a=b")
	require.NoError(t, err)
	assert.Equal(t, Param{Key: "suffix", Value: "a=b"}, p)

	_, err = ParseParam("novalue")
	assert.Error(t, err)
}

func TestParamsUnmarshalYAMLKeepsDocumentOrder(t *testing.T) {
	var pl Pipeline
	doc := "path: main.nf\nparams:\n  zeta: 1\n  alpha: two\n  mid: '3'\n"
	require.NoError(t, yaml.Unmarshal([]byte(doc), &pl))
	assert.Equal(t, Params{{"zeta", "1"}, {"alpha", "two"}, {"mid", "3"}}, pl.Params)
}

func TestQuoteArgs(t *testing.T) {
	got := QuoteArgs([]string{"nextflow", "run", "my pipeline.nf", "--name=it's"})
	assert.Equal(t, `nextflow run 'my pipeline.nf' '--name=it'\''s'`, got)
}

func TestExecStatusTerminal(t *testing.T) {
	assert.False(t, ExecStatusPending.Terminal())
	assert.False(t, ExecStatusRunning.Terminal())
	assert.True(t, ExecStatusOK.Terminal())
	assert.True(t, ExecStatusError.Terminal())
}
