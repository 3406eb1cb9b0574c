package domain

// Family 表示一个需要被分配到某一天参观的家庭
type Family struct {
	ID            int32   `json:"familyID" validate:"min=0"`
	People        int32   `json:"people" validate:"required,min=1"`
	Choices       []int32 `json:"choices" validate:"required,min=1,max=10,unique,dive,min=1"` // 按偏好从高到低排列
	ContactName   string  `json:"contactName,omitempty"`
	ContactHandle string  `json:"contactHandle,omitempty"`
}

// DayAssignment 是最终结果中的一行，即 family_id, assigned_day
type DayAssignment struct {
	FamilyID    int32 `json:"familyID"`
	AssignedDay int32 `json:"assignedDay"`
}
