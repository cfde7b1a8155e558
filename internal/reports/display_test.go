package reports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabels(t *testing.T) {
	for _, s := range allStatuses {
		assert.NotEmpty(t, Label(s, LangThai), s)
		assert.NotEmpty(t, Label(s, LangEnglish), s)
		assert.NotEqual(t, string(s), Label(s, LangThai), "status %s has no Thai label", s)
	}
	assert.Equal(t, "กำลังดำเนินการ", Label(StatusInProgress, LangThai))
	assert.Equal(t, "In progress", Label(StatusInProgress, LangEnglish))
	assert.Equal(t, "mystery", Label("mystery", LangThai))
	assert.Equal(t, "แจ้งซ่อม", CategoryLabel(CategoryRepair, LangThai))
	assert.Equal(t, "Urgent", PriorityLabel(PriorityUrgent, LangEnglish))
}

func TestParseLang(t *testing.T) {
	assert.Equal(t, LangEnglish, ParseLang("en-US,en;q=0.9"))
	assert.Equal(t, LangThai, ParseLang("th-TH"))
	assert.Equal(t, LangThai, ParseLang(""))
}

func TestFieldMessage(t *testing.T) {
	tests := []struct {
		fe   FieldError
		lang Lang
		want string
	}{
		{FieldError{Field: "description", Rule: "required"}, LangThai, "กรุณาระบุรายละเอียด"},
		{FieldError{Field: "description", Rule: "required"}, LangEnglish, "description is required"},
		{FieldError{Field: "rating", Rule: "range", Param: "1-5"}, LangEnglish, "rating must be between 1-5"},
		{FieldError{Field: "images[3]", Rule: "max", Param: "1000"}, LangEnglish, "images must be at most 1000"},
		{FieldError{Field: "coordinates", Rule: "pair"}, LangEnglish, "latitude and longitude must be given together"},
		{FieldError{Field: "whatever", Rule: "odd"}, LangEnglish, "whatever is invalid"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FieldMessage(tt.fe, tt.lang))
	}
}

func TestLocalizeFillsNestedLabels(t *testing.T) {
	v := &ReportView{
		Category: CategoryRepair,
		Status:   StatusCompleted,
		Priority: PriorityHigh,
		Repair:   &RepairView{Status: StatusCompleted},
		Timeline: []TimelineEntry{{To: StatusSubmitted}, {From: StatusSubmitted, To: StatusAssigned}},
	}
	Localize(v, LangEnglish)
	assert.Equal(t, "Repair", v.CategoryLabel)
	assert.Equal(t, "Completed", v.Repair.StatusLabel)
	assert.Equal(t, "Assigned", v.Timeline[1].ToLabel)

	Localize(v, LangThai)
	assert.Equal(t, "มอบหมายช่างแล้ว", v.Timeline[1].ToLabel)
}

func TestPhoneHelpers(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0812345678", "081-234-5678", true},
		{"081-234-5678", "081-234-5678", true},
		{"+66 81 234 5678", "081-234-5678", true},
		{"๐๘๑๒๓๔๕๖๗๘", "081-234-5678", true},
		{"12345", "", false},
		{"08123456789", "", false},
		{"081-234-567x", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePhone(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "081-xxx-5678", MaskPhone("081-234-5678"))
	assert.Empty(t, MaskPhone("garbage"))
}
