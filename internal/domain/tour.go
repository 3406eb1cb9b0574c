package domain

import "time"

// 会计成本公式只在这个人数区间内有定义，每天的上下限必须落在其中
const (
	AttendanceFloor   = 125
	AttendanceCeiling = 300
)

// Tour 是一次完整的排期问题：若干天、每天的人数上下限以及所有家庭
type Tour struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Days          int32     `json:"days"`
	MinAttendance int32     `json:"minAttendance"`
	MaxAttendance int32     `json:"maxAttendance"`
	Families      []Family  `json:"families,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Version       int32     `json:"-"`
}

// TourMeta 是不带家庭列表的 Tour，用于列表展示
type TourMeta struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Days          int32     `json:"days"`
	MinAttendance int32     `json:"minAttendance"`
	MaxAttendance int32     `json:"maxAttendance"`
	FamilyCount   int32     `json:"familyCount"`
	PeopleCount   int32     `json:"peopleCount"`
	CreatedAt     time.Time `json:"createdAt"`
}
