package export

import (
	"strings"

	"github.com/engineerpark/cdulog/internal/maintenance/domain"
)

// Labels are the localized strings used in every rendering.
type Labels struct {
	Title        string
	Headers      []string
	Open         string
	Resolved     string
	NoRecords    string
	Types        map[domain.MaintenanceType]string
	UnitStatuses map[domain.UnitStatus]string
	Workflow     map[domain.WorkflowStatus]string
}

var koLabels = Labels{
	Title: "실외기 정비 이력",
	Headers: []string{
		"공장", "위치", "실외기", "모델", "제조사", "실외기 상태",
		"이력 ID", "제목", "정비 유형", "작업자", "상태", "진행 상태",
		"등록일", "해결일", "해결자", "해결 메모", "예상 비용", "실제 비용",
	},
	Open:      "진행중",
	Resolved:  "해결됨",
	NoRecords: "이력 없음",
	Types: map[domain.MaintenanceType]string{
		domain.MaintenanceTypePreventive: "예방 정비",
		domain.MaintenanceTypeCorrective: "고장 수리",
		domain.MaintenanceTypeEmergency:  "긴급 수리",
		domain.MaintenanceTypeInspection: "점검",
	},
	UnitStatuses: map[domain.UnitStatus]string{
		domain.UnitStatusActive:      "정상",
		domain.UnitStatusMaintenance: "정비중",
		domain.UnitStatusInactive:    "비활성",
		domain.UnitStatusRetired:     "폐기",
	},
	Workflow: map[domain.WorkflowStatus]string{
		domain.WorkflowScheduled:  "예정",
		domain.WorkflowInProgress: "진행중",
		domain.WorkflowCompleted:  "완료",
		domain.WorkflowCancelled:  "취소",
		domain.WorkflowOnHold:     "보류",
	},
}

var enLabels = Labels{
	Title: "Outdoor Unit Maintenance History",
	Headers: []string{
		"Factory", "Location", "Unit", "Model", "Manufacturer", "Unit Status",
		"Record ID", "Title", "Type", "Performed By", "State", "Workflow",
		"Created At", "Resolved At", "Resolved By", "Resolved Notes", "Estimated Cost", "Actual Cost",
	},
	Open:      "Open",
	Resolved:  "Resolved",
	NoRecords: "No records",
	Types: map[domain.MaintenanceType]string{
		domain.MaintenanceTypePreventive: "Preventive",
		domain.MaintenanceTypeCorrective: "Corrective",
		domain.MaintenanceTypeEmergency:  "Emergency",
		domain.MaintenanceTypeInspection: "Inspection",
	},
	UnitStatuses: map[domain.UnitStatus]string{
		domain.UnitStatusActive:      "Active",
		domain.UnitStatusMaintenance: "Maintenance",
		domain.UnitStatusInactive:    "Inactive",
		domain.UnitStatusRetired:     "Retired",
	},
	Workflow: map[domain.WorkflowStatus]string{
		domain.WorkflowScheduled:  "Scheduled",
		domain.WorkflowInProgress: "In progress",
		domain.WorkflowCompleted:  "Completed",
		domain.WorkflowCancelled:  "Cancelled",
		domain.WorkflowOnHold:     "On hold",
	},
}

// LabelsFor returns the label set for a locale, defaulting to Korean.
func LabelsFor(locale string) Labels {
	switch strings.ToLower(strings.TrimSpace(locale)) {
	case "en", "en-us", "en_us":
		return enLabels
	default:
		return koLabels
	}
}

func lookup[K ~string](m map[K]string, key K) string {
	if label, ok := m[key]; ok {
		return label
	}
	return string(key)
}
