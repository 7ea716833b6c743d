package recon

import (
	"context"
	"fmt"

	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
)

type Outcome string

const (
	OutcomeShipped        Outcome = "shipped"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeAlreadyShipped Outcome = "already_shipped"
	OutcomeError          Outcome = "error"
)

// ScanResult — итог одного скана. Scanned — агрегат сессии после скана.
type ScanResult struct {
	Outcome   Outcome             `json:"outcome"`
	Code      string              `json:"code"`
	Kind      codes.Kind          `json:"kind"`
	Reason    string              `json:"reason,omitempty"`
	VariantID int64               `json:"variant_id,omitempty"`
	Units     int64               `json:"units,omitempty"`
	Scanned   shipments.Aggregate `json:"scanned"`
	Status    shipments.Status    `json:"status"`
}

func (r ScanResult) OK() bool { return r.Outcome == OutcomeShipped }

// ScanOne сканирует один код в сессию. Отказ по самому коду — это исход, а не ошибка;
// ошибка возвращается только если сессию нельзя менять или хранилище недоступно.
func (e *Engine) ScanOne(ctx context.Context, sessionID int64, raw string) (ScanResult, error) {
	code, kind := e.classifier.Classify(raw)
	res := ScanResult{Code: code, Kind: kind}
	if code == "" {
		res.Code = raw
	}

	err := e.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		s, err := e.lockOpen(ctx, r, sessionID)
		if err != nil {
			return err
		}
		res.Scanned, res.Status = s.Scanned, s.Status

		if kind == codes.KindUnknown {
			res.Outcome, res.Reason = OutcomeError, "unrecognized code"
			return nil
		}
		if s.Has(kind, code) {
			res.Outcome, res.Reason = OutcomeDuplicate, "code already scanned in this session"
			return nil
		}

		info, err := lookup(ctx, r.Codes, kind, code)
		if err != nil {
			return err
		}
		switch {
		case info == nil:
			res.Outcome, res.Reason = OutcomeError, "code not found"
			return nil
		case info.status != codes.StatusPacked:
			res.Outcome, res.Reason = OutcomeAlreadyShipped, "code is "+string(info.status)
			return nil
		}

		reason, err := crossConflict(ctx, r.Codes, s.ID, kind, info)
		if err != nil {
			return err
		}
		if reason != "" {
			res.Outcome, res.Reason = OutcomeAlreadyShipped, reason
			return nil
		}

		ok, err := r.Codes.Reserve(ctx, kind, code, s.ID)
		if err != nil {
			return err
		}
		if !ok {
			// код забрала другая сессия между поиском и резервом
			res.Outcome, res.Reason = OutcomeAlreadyShipped, "code is reserved by another session"
			return nil
		}

		s.Append(kind, code)
		if _, err := recompute(ctx, r.Codes, s); err != nil {
			return err
		}
		if err := r.Sessions.Save(ctx, s); err != nil {
			return err
		}
		res.Outcome, res.VariantID, res.Units = OutcomeShipped, info.variantID, info.units
		res.Scanned, res.Status = s.Scanned, s.Status
		return nil
	})
	if err != nil {
		e.metrics.Scan("fault")
		return ScanResult{}, err
	}
	e.metrics.Scan(string(res.Outcome))
	e.log.Debug("code scanned", "session_id", sessionID, "code", res.Code, "kind", kind, "outcome", res.Outcome)
	return res, nil
}

type codeInfo struct {
	id        int64
	status    codes.Status
	variantID int64
	units     int64
	masterID  *int64
}

// lookup находит код в реестре; nil — кода нет.
func lookup(ctx context.Context, reg Registry, kind codes.Kind, code string) (*codeInfo, error) {
	switch kind {
	case codes.KindMaster:
		m, err := reg.LookupMaster(ctx, code)
		if err != nil || m == nil {
			return nil, err
		}
		return &codeInfo{id: m.ID, status: m.Status, variantID: m.VariantID, units: m.UnitCount}, nil
	case codes.KindUnique:
		u, err := reg.LookupUnique(ctx, code)
		if err != nil || u == nil {
			return nil, err
		}
		return &codeInfo{id: u.ID, status: u.Status, variantID: u.VariantID, units: 1, masterID: u.MasterID}, nil
	}
	return nil, nil
}

// crossConflict проверяет связку «короб — единицы в нём» за пределами сессии.
// Единицу нельзя взять, если её короб отгружен или занят другой сессией, и наоборот:
// короб нельзя взять, если хоть одна его единица ушла или занята другой сессией.
// Строка короба блокируется, поэтому встречные сканы короба и единицы не проходят оба.
func crossConflict(ctx context.Context, reg Registry, sessionID int64, kind codes.Kind, info *codeInfo) (string, error) {
	ours := func(st codes.Status, sid *int64) bool {
		return st == codes.StatusPacked || (st == codes.StatusScanned && sid != nil && *sid == sessionID)
	}
	switch kind {
	case codes.KindUnique:
		if info.masterID == nil {
			return "", nil
		}
		m, err := reg.LockMaster(ctx, *info.masterID)
		if err != nil || m == nil {
			return "", err
		}
		if !ours(m.Status, m.SessionID) {
			return fmt.Sprintf("case %s is %s", m.Code, busy(m.Status)), nil
		}
	case codes.KindMaster:
		if _, err := reg.LockMaster(ctx, info.id); err != nil {
			return "", err
		}
		nested, err := reg.Nested(ctx, info.id)
		if err != nil {
			return "", err
		}
		for _, u := range nested {
			if !ours(u.Status, u.SessionID) {
				return fmt.Sprintf("unit %s of the case is %s", u.Code, busy(u.Status)), nil
			}
		}
	}
	return "", nil
}

func busy(st codes.Status) string {
	if st == codes.StatusScanned {
		return "reserved by another session"
	}
	return string(st)
}
