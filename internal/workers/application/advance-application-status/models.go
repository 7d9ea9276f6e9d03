package advanceapplicationstatus

type Input struct {
	ApplicationID  string `json:"applicationId"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	ApplicantPhone string `json:"applicantPhone,omitempty"`
}

type Output struct {
	ApplicationID     string `json:"applicationId"`
	PreviousStatus    string `json:"previousStatus"`
	ApplicationStatus string `json:"applicationStatus"`
	UpdatedAt         string `json:"updatedAt"` // ISO 8601
	Changed           bool   `json:"changed"`
}
