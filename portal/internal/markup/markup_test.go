package markup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const finalTable = `<table class="gridtable">
<thead><tr><th>学年学期</th><th>课程代码</th><th>课程序号</th><th>课程名称</th><th>课程类别</th><th>学分</th><th>期末成绩</th><th>总评成绩</th><th>补考成绩</th><th>最终</th><th>绩点</th></tr></thead>
<tbody>
<tr><td>2023-2024 2</td><td>MATH101</td><td> 01 </td><td>高等数学<br>（下）</td><td>必修</td><td>5</td><td>88</td><td>90</td><td></td><td>90</td><td>4.0</td></tr>
<tr><td>2023-2024 2</td><td>PHYS1</td><td>02</td><td>大学物理</td><td>必修</td><td>4</td><td>80</td><td>81</td><td></td></tr>
<tr><td>2023-2024 2</td><td>ENG2</td><td>03</td><td>  大学
   英语 </td><td>必修</td><td>2</td><td>75</td><td>78</td><td></td><td>78</td><td>3.0</td></tr>
</tbody></table>`

func TestRows_SkipsShortRows(t *testing.T) {
	// WHAT: rows under the column minimum are dropped, cell text is normalized.
	// WHY: a malformed row must not shift columns into the wrong fields.
	rows, err := Rows(finalTable, 11, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"2023-2024 2", "MATH101", "01", "高等数学\n（下）", "必修", "5", "88", "90", "", "90", "4.0"},
		{"2023-2024 2", "ENG2", "03", "大学 英语", "必修", "2", "75", "78", "", "78", "3.0"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRows_Take(t *testing.T) {
	rows, err := Rows(`<table><tr><td>a</td><td>b</td><td>c</td><td>d</td></tr><tr><td>x</td></tr></table>`, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"a", "b", "c"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRows_IgnoresNestedTables(t *testing.T) {
	doc := `<table><tbody><tr><td>a</td><td><table><tbody><tr><td>in</td><td>ner</td></tr></tbody></table></td></tr></tbody></table>`
	rows, err := Rows(doc, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows: got %d, want 1 (%q)", len(rows), rows)
	}
	if rows[0][0] != "a" {
		t.Errorf("cell: got %q, want %q", rows[0][0], "a")
	}
}

func TestRows_NoTable(t *testing.T) {
	if _, err := Rows(`<div>nothing</div>`, 1, 0); err != ErrNoTable {
		t.Errorf("err: got %v, want ErrNoTable", err)
	}
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want Features
	}{
		{
			name: "empty string",
			doc:  "",
			want: Features{BlankDocument: true},
		},
		{
			name: "empty body",
			doc:  `<html><head><title> t </title></head><body>  </body></html>`,
			want: Features{BlankDocument: true, Title: "t"},
		},
		{
			name: "meta marker",
			doc:  `<html><head><meta r="m" content="x"></head><body><p>loading</p></body></html>`,
			want: Features{AntiBotMarker: true},
		},
		{
			name: "script marker with blank body",
			doc:  `<html><head><script r="m">1</script></head><body></body></html>`,
			want: Features{AntiBotMarker: true, BlankDocument: true},
		},
		{
			name: "duplicate login",
			doc:  `<html><body><div>当前用户存在重复登录的情况，<a href="#">点击此处</a>继续</div></body></html>`,
			want: Features{DuplicateWarning: true, ContinueLink: true},
		},
		{
			name: "ordinary page",
			doc:  `<html><body><table><tr><td>课程名称</td></tr></table></body></html>`,
			want: Features{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Inspect(tt.doc)); diff != "" {
				t.Errorf("features mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectOptions(t *testing.T) {
	doc := `<form><select name="semester.id">
<option value="">请选择</option>
<option value="443"> 2024-2025 第一学期 </option>
<option value="463">2024-2025 第二学期</option>
</select></form>`
	got, err := SelectOptions(doc, `select[name='semester.id']`)
	if err != nil {
		t.Fatal(err)
	}
	want := []Option{
		{Value: "443", Text: "2024-2025 第一学期"},
		{Value: "463", Text: "2024-2025 第二学期"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}

	none, err := SelectOptions(doc, "select#missing")
	if err != nil || none != nil {
		t.Errorf("missing select: got %v, %v", none, err)
	}
}
