package domain

const (
	MailTypeCreateUser  = "create_user"
	MailTypeRunFinished = "run_finished"
)

type MailMessage struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Data any    `json:"data"`
}

type CreateUserMailData struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RunFinishedMailData struct {
	FullName  string  `json:"fullName"`
	TourName  string  `json:"tourName"`
	RunID     string  `json:"runID"`
	Status    string  `json:"status"`
	FinalCost float64 `json:"finalCost"`
	Sweeps    int32   `json:"sweeps"`
	Moves     int32   `json:"moves"`
	Degraded  bool    `json:"degraded"`
	Elapsed   string  `json:"elapsed"`
}
