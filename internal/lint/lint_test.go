package lint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueTypes(r Result) []string {
	var out []string
	for _, is := range r.Issues {
		out = append(out, is.Type+"@"+is.Location)
	}
	return out
}

func TestRunCleanDocument(t *testing.T) {
	res := Run([]byte(`{"name":"pll","version":"1.2.0","description":"clock tree","spec_metadata":{"owner":"rf"}}`))
	assert.Empty(t, res.Issues)
	assert.Equal(t, "No issues found", res.Summary)
}

func TestRunMissingFields(t *testing.T) {
	cases := []struct {
		doc  string
		want []string
	}{
		{`{}`, []string{"MISSING_FIELD@root.name", "MISSING_FIELD@root.version", "MISSING_FIELD@root.description"}},
		{`{"name":"a","description":"b"}`, []string{"MISSING_FIELD@root.version"}},
		{`{"version":"1.0.0"}`, []string{"MISSING_FIELD@root.name", "MISSING_FIELD@root.description"}},
	}
	for _, tc := range cases {
		res := Run([]byte(tc.doc))
		assert.Equal(t, tc.want, issueTypes(res), tc.doc)
		for _, is := range res.Issues {
			assert.Equal(t, SeverityError, is.Severity)
			assert.NotEmpty(t, is.Remediation)
		}
	}
}

func TestRunInvalidJSONShortCircuits(t *testing.T) {
	for _, doc := range []string{
		``,
		`{"name":`,
		`[1,2,3]`,
		`"just a string"`,
		`{"name":"a"} {"name":"b"}`,
		`{"name":"a"} trailing`,
		"{\"name\":\"\xff\"}",
	} {
		res := Run([]byte(doc))
		require.Len(t, res.Issues, 1, "%q", doc)
		is := res.Issues[0]
		assert.Equal(t, TypeInvalidJSON, is.Type)
		assert.Equal(t, SeverityError, is.Severity)
		assert.Equal(t, "root", is.Location)
		assert.Equal(t, "Invalid JSON format", res.Summary)
	}
}

func TestRunVersionAndMetadataRules(t *testing.T) {
	res := Run([]byte(`{"name":"a","version":"  ","description":"d","spec_metadata":[1],"metadata":"x"}`))
	assert.Equal(t, []string{
		"INVALID_VERSION@root.version",
		"INVALID_METADATA@root.spec_metadata",
		"INVALID_METADATA@root.metadata",
	}, issueTypes(res))
	assert.Equal(t, "Found 3 errors, 0 warnings, and 0 info messages", res.Summary)

	res = Run([]byte(`{"name":"a","version":3,"description":"d"}`))
	assert.Equal(t, []string{"INVALID_VERSION@root.version"}, issueTypes(res))

	res = Run([]byte(`{"name":"a","version":null,"description":"d","metadata":null}`))
	assert.Equal(t, []string{"INVALID_VERSION@root.version", "INVALID_METADATA@root.metadata"}, issueTypes(res))
}

func TestRunAllRulesRunTogether(t *testing.T) {
	res := Run([]byte(`{"version":false,"spec_metadata":1}`))
	assert.Equal(t, []string{
		"MISSING_FIELD@root.name",
		"MISSING_FIELD@root.description",
		"INVALID_VERSION@root.version",
		"INVALID_METADATA@root.spec_metadata",
	}, issueTypes(res))
}

func TestRunIsDeterministic(t *testing.T) {
	doc := []byte(`{"description":"x","metadata":7}`)
	first := Run(doc)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Run(doc))
	}
}
