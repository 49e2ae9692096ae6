package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustConvertJSX(t *testing.T, src string) string {
	t.Helper()
	out, changed, err := convertJSX(src, defaultJSXOptions())
	require.NoError(t, err)
	require.True(t, changed)
	return out
}

func TestJSXSelfClosing(t *testing.T) {
	out := mustConvertJSX(t, "const el = <br/>;\n")
	assert.Contains(t, out, `React.createElement("br", null)`)
}

func TestJSXIntrinsicWithAttributes(t *testing.T) {
	out := mustConvertJSX(t, `const el = <div className="box" id="main">text</div>;`)
	assert.Contains(t, out, `React.createElement("div"`)
	assert.Contains(t, out, `"className": "box"`)
	assert.Contains(t, out, `"id": "main"`)
	assert.Contains(t, out, `"text"`)
}

func TestJSXComponentTag(t *testing.T) {
	out := mustConvertJSX(t, "const el = <Widget size={4}/>;\n")
	assert.Contains(t, out, "React.createElement(Widget")
	assert.Contains(t, out, `"size": (4)`)
}

func TestJSXNestedElements(t *testing.T) {
	out := mustConvertJSX(t, "const el = <ul><li>one</li><li>two</li></ul>;")
	assert.Contains(t, out, `React.createElement("ul", null, React.createElement("li", null, "one"), React.createElement("li", null, "two"))`)
}

func TestJSXExpressionChildren(t *testing.T) {
	out := mustConvertJSX(t, "const el = <span>count: {n + 1}</span>;")
	assert.Contains(t, out, `"count: "`)
	assert.Contains(t, out, "(n + 1)")
}

func TestJSXFragment(t *testing.T) {
	out := mustConvertJSX(t, "const el = <><hr/><hr/></>;")
	assert.Contains(t, out, "React.createElement(React.Fragment, null")
}

func TestJSXSpreadAttributes(t *testing.T) {
	out := mustConvertJSX(t, "const el = <div {...props} role=\"tab\"/>;")
	assert.Contains(t, out, "Object.assign({}, (props)")
	assert.Contains(t, out, `"role": "tab"`)
}

func TestJSXReturnPosition(t *testing.T) {
	out := mustConvertJSX(t, "function App() { return <div>hi</div>; }")
	assert.Contains(t, out, `return React.createElement("div", null, "hi");`)
}

func TestJSXLeavesComparisonsAlone(t *testing.T) {
	src := "const less = a < b;\nconst more = a > b;\n"
	out, changed, err := convertJSX(src, defaultJSXOptions())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, src, out)
}

func TestJSXIdempotent(t *testing.T) {
	out := mustConvertJSX(t, "const el = <p>hi</p>;")
	again, changed, err := convertJSX(out, defaultJSXOptions())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, out, again)
}

func TestJSXFallbackSelfClosingOnly(t *testing.T) {
	out, changed := fallbackJSX("const el = <Spinner/>;", defaultJSXOptions())
	assert.True(t, changed)
	assert.Contains(t, out, "React.createElement(Spinner, null)")
}
