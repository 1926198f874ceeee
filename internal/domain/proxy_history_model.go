package domain

import "time"

// ProxyCheck is one persisted validator verdict.
type ProxyCheck struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	IP             string    `gorm:"size:45;not null;index:idx_proxy_check_addr,priority:1" json:"ip"`
	Port           string    `gorm:"size:5;not null;index:idx_proxy_check_addr,priority:2" json:"port"`
	Source         string    `gorm:"size:64;default:''" json:"source"`
	Cycle          string    `gorm:"size:16;not null" json:"cycle"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	ResponseTimeMs uint32    `gorm:"not null;default:0" json:"response_time_ms"`
	CheckedURL     string    `gorm:"size:2048;default:''" json:"checked_url"`
	Anonymity      string    `gorm:"size:8;default:''" json:"anonymity"`
	ErrorMsg       string    `gorm:"size:512;default:''" json:"error_msg"`
	CheckedAt      time.Time `gorm:"not null;index" json:"checked_at"`
}

func NewProxyCheck(verdict Verdict, cycle string) ProxyCheck {
	record := verdict.Record

	checkedAt := time.Now()
	if record.LastCheck > 0 {
		checkedAt = time.Unix(record.LastCheck, 0)
	}

	errMsg := record.ErrorMsg
	if len(errMsg) > 512 {
		errMsg = errMsg[:512]
	}

	return ProxyCheck{
		IP:             record.IP,
		Port:           record.Port,
		Source:         record.Source,
		Cycle:          cycle,
		Status:         string(record.Status),
		ResponseTimeMs: uint32(record.ResponseTime * 1000),
		CheckedURL:     record.CheckedURL,
		Anonymity:      string(record.Anonymity),
		ErrorMsg:       errMsg,
		CheckedAt:      checkedAt,
	}
}
