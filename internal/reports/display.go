package reports

import (
	"fmt"
	"strings"
)

// Lang selects the language of display strings. Lifecycle logic never sees it.
type Lang string

const (
	LangThai    Lang = "th"
	LangEnglish Lang = "en"
)

// ParseLang reads a ?lang value or an Accept-Language header. Thai is the default.
func ParseLang(s string) Lang {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, "en") {
		return LangEnglish
	}
	return LangThai
}

type labels struct{ th, en string }

func (l labels) in(lang Lang) string {
	if lang == LangEnglish {
		return l.en
	}
	return l.th
}

var statusLabels = map[Status]labels{
	StatusSubmitted:  {"รอดำเนินการ", "Submitted"},
	StatusAssigned:   {"มอบหมายช่างแล้ว", "Assigned"},
	StatusInProgress: {"กำลังดำเนินการ", "In progress"},
	StatusCompleted:  {"ดำเนินการเสร็จสิ้น", "Completed"},
	StatusCancelled:  {"ยกเลิก", "Cancelled"},
	StatusApproved:   {"อนุมัติ", "Approved"},
	StatusRejected:   {"ไม่อนุมัติ", "Rejected"},
}

var categoryLabels = map[Category]labels{
	CategoryRepair:  {"แจ้งซ่อม", "Repair"},
	CategoryRequest: {"คำร้อง", "Request"},
	CategoryGeneral: {"เรื่องทั่วไป", "General"},
}

var priorityLabels = map[Priority]labels{
	PriorityLow:    {"ต่ำ", "Low"},
	PriorityNormal: {"ปกติ", "Normal"},
	PriorityHigh:   {"สูง", "High"},
	PriorityUrgent: {"เร่งด่วน", "Urgent"},
}

// Label returns the display string of a status.
func Label(s Status, lang Lang) string {
	if l, ok := statusLabels[s]; ok {
		return l.in(lang)
	}
	return string(s)
}

func CategoryLabel(c Category, lang Lang) string {
	if l, ok := categoryLabels[c]; ok {
		return l.in(lang)
	}
	return string(c)
}

func PriorityLabel(p Priority, lang Lang) string {
	if l, ok := priorityLabels[p]; ok {
		return l.in(lang)
	}
	return string(p)
}

var fieldLabels = map[string]labels{
	"category":        {"ประเภทเรื่อง", "category"},
	"problem_type_id": {"ประเภทปัญหา", "problem type"},
	"description":     {"รายละเอียด", "description"},
	"reporter_name":   {"ชื่อผู้แจ้ง", "reporter name"},
	"reporter_phone":  {"เบอร์โทรศัพท์", "phone number"},
	"location":        {"สถานที่", "location"},
	"latitude":        {"ละติจูด", "latitude"},
	"longitude":       {"ลองจิจูด", "longitude"},
	"coordinates":     {"พิกัด", "coordinates"},
	"asset_code":      {"รหัสทรัพย์สิน", "asset code"},
	"images":          {"รูปภาพ", "images"},
	"priority":        {"ความเร่งด่วน", "priority"},
	"technician_id":   {"รหัสช่าง", "technician"},
	"estimated_cost":  {"ค่าใช้จ่ายประมาณการ", "estimated cost"},
	"actual_cost":     {"ค่าใช้จ่ายจริง", "actual cost"},
	"completion_date": {"วันที่แล้วเสร็จ", "completion date"},
	"after_images":    {"รูปภาพหลังซ่อม", "after images"},
	"reason":          {"เหตุผล", "reason"},
	"rating":          {"คะแนน", "rating"},
	"feedback":        {"ความคิดเห็น", "feedback"},
	"status":          {"สถานะ", "status"},
	"IdempotencyKey":  {"Idempotency-Key", "Idempotency-Key"},
}

var ruleMessages = map[string]labels{
	"required":         {"กรุณาระบุ%s", "%s is required"},
	"thphone":          {"%sต้องเป็นหมายเลข 10 หลัก เช่น 081-234-5678", "%s must be a 10-digit number such as 081-234-5678"},
	"max":              {"%sเกินจำนวนที่กำหนด (สูงสุด %s)", "%s must be at most %s"},
	"oneof":            {"%sไม่ถูกต้อง", "%s has an unsupported value"},
	"gt":               {"%sไม่ถูกต้อง", "%s is invalid"},
	"numeric":          {"%sต้องเป็นตัวเลข", "%s must be a number"},
	"gte":              {"%sต้องไม่ติดลบ", "%s must not be negative"},
	"decimal":          {"%sมีทศนิยมได้ไม่เกิน %s ตำแหน่ง", "%s may have at most %s decimal places"},
	"range":            {"%sต้องอยู่ระหว่าง %s", "%s must be between %s"},
	"pair":             {"ต้องระบุละติจูดและลองจิจูดพร้อมกัน", "latitude and longitude must be given together"},
	"required_without": {"กรุณาระบุ%sหรือพิกัด", "%s or coordinates is required"},
	"exists":           {"ไม่พบ%sในระบบ", "%s does not exist"},
	"category":         {"%sไม่ตรงกับประเภทเรื่อง", "%s does not belong to this category"},
	"technician":       {"%sไม่ใช่ช่างในระบบ", "%s is not a registered technician"},
	"datetime":         {"%sต้องอยู่ในรูปแบบ ปปปป-ดด-วว", "%s must be a date in YYYY-MM-DD form"},
	"latitude":         {"%sอยู่นอกช่วงที่ถูกต้อง", "%s is out of range"},
	"longitude":        {"%sอยู่นอกช่วงที่ถูกต้อง", "%s is out of range"},
}

// FieldMessage renders a field error for the citizen in the given language.
func FieldMessage(fe FieldError, lang Lang) string {
	name := fe.Field
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	field := name
	if l, ok := fieldLabels[name]; ok {
		field = l.in(lang)
	}
	tmpl, ok := ruleMessages[fe.Rule]
	if !ok {
		tmpl = labels{"%sไม่ถูกต้อง", "%s is invalid"}
	}
	format := tmpl.in(lang)
	switch strings.Count(format, "%s") {
	case 0:
		return format
	case 1:
		return fmt.Sprintf(format, field)
	default:
		return fmt.Sprintf(format, field, fe.Param)
	}
}

// FieldMessages maps each failing field path to its localized message.
func FieldMessages(ve *ValidationError, lang Lang) map[string]string {
	out := make(map[string]string, len(ve.Fields))
	for _, fe := range ve.Fields {
		if _, dup := out[fe.Field]; !dup {
			out[fe.Field] = FieldMessage(fe, lang)
		}
	}
	return out
}
