package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zonemaster/broker/internal/buildinfo"
	"github.com/zonemaster/broker/internal/config"
	"github.com/zonemaster/broker/internal/dnsutil"
	"github.com/zonemaster/broker/internal/fingerprint"
	"github.com/zonemaster/broker/internal/models"
	"github.com/zonemaster/broker/internal/store"
	"github.com/zonemaster/broker/internal/translate"
	"github.com/zonemaster/broker/internal/validate"
)

// versionInfoResult is version_info's fixed-shape result (spec.md §6).
type versionInfoResult struct {
	Backend string `json:"zonemaster_backend"`
	Engine  string `json:"zonemaster_engine"`
}

func handleVersionInfo(_ context.Context, _ *Server, _ json.RawMessage) (any, error) {
	return versionInfoResult{Backend: buildinfo.String(), Engine: buildinfo.EngineVersion}, nil
}

func handleProfileNames(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	names := s.Config.PublicProfileNames()
	hasDefault := false
	for _, n := range names {
		if n == "default" {
			hasDefault = true
			break
		}
	}
	if !hasDefault {
		names = append(names, "default")
	}
	sort.Strings(names)
	return names, nil
}

func handleGetLanguageTags(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	shortCounts := map[string]int{}
	fulls := map[string]struct{}{}
	for _, locale := range s.Config.Locales {
		short, full, ok := splitLocale(locale)
		if !ok {
			continue
		}
		shortCounts[short]++
		fulls[full] = struct{}{}
	}
	tags := map[string]struct{}{}
	for short, count := range shortCounts {
		if count == 1 {
			tags[short] = struct{}{}
		}
	}
	for full := range fulls {
		tags[full] = struct{}{}
	}
	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// resolveLocale maps a wire-level language tag ("en" or "en_US") back to
// the full configured locale string ("en_US.UTF-8") the Catalog indexes by.
func resolveLocale(cfg config.Config, tag string) (string, bool) {
	for _, locale := range cfg.Locales {
		short, full, ok := splitLocale(locale)
		if !ok {
			continue
		}
		if tag == short || tag == full {
			return locale, true
		}
	}
	return "", false
}

// splitLocale turns "en_US.UTF-8" into ("en", "en_US", true).
func splitLocale(locale string) (short, full string, ok bool) {
	base := locale
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return "", "", false
	}
	return parts[0], base, true
}

type getHostByNameParams struct {
	Hostname string `json:"hostname"`
}

func handleGetHostByName(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p getHostByNameParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	if p.Hostname == "" {
		return nil, validate.Errors{{Path: "/hostname", Message: "hostname is required"}}
	}
	addrs, err := s.Lookup.GetHostByName(ctx, p.Hostname)
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	out := make([]map[string]string, len(addrs))
	for i, a := range addrs {
		out[i] = map[string]string{p.Hostname: a.IP}
	}
	return out, nil
}

type getDataFromParentZoneParams struct {
	Domain   string `json:"domain"`
	Language string `json:"language,omitempty"`
}

func handleGetDataFromParentZone(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p getDataFromParentZoneParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	var probs validate.Errors
	domain, err := validate.Domain(p.Domain)
	if err != nil {
		probs = append(probs, validate.Problem{Path: "/domain", Message: err.Error()})
	}
	if p.Language != "" {
		if err := validate.LanguageTag(p.Language); err != nil {
			probs = append(probs, validate.Problem{Path: "/language", Message: err.Error()})
		}
	}
	if len(probs) > 0 {
		return nil, probs
	}
	data, err := s.Lookup.GetDataFromParentZone(ctx, domain)
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	return dnsutil.ParentZoneData{NSList: data.NSList, DSList: data.DSList}, nil
}

type nameServerParam struct {
	NS string `json:"ns"`
	IP string `json:"ip,omitempty"`
}

type dsInfoParam struct {
	Digest    string          `json:"digest"`
	Algorithm json.RawMessage `json:"algorithm"`
	DigType   json.RawMessage `json:"digtype"`
	KeyTag    json.RawMessage `json:"keytag"`
}

type startDomainTestParams struct {
	Domain        string            `json:"domain"`
	IPv4          json.RawMessage   `json:"ipv4,omitempty"`
	IPv6          json.RawMessage   `json:"ipv6,omitempty"`
	NameServers   []nameServerParam `json:"nameservers,omitempty"`
	DSInfo        []dsInfoParam     `json:"ds_info,omitempty"`
	Profile       string            `json:"profile,omitempty"`
	ClientID      string            `json:"client_id,omitempty"`
	ClientVersion string            `json:"client_version,omitempty"`
	Priority      json.RawMessage   `json:"priority,omitempty"`
	Queue         json.RawMessage   `json:"queue,omitempty"`
	Language      string            `json:"language,omitempty"`
}

// buildParams validates and assembles a models.Params from wire-level
// fields shared by start_domain_test and add_batch_job's test_params.
// domain is validated separately by the caller when it comes from a batch
// domain list rather than this struct's own Domain field.
func buildParams(s *Server, p startDomainTestParams, validateDomain bool) (models.Params, int, int, validate.Errors) {
	var probs validate.Errors
	out := models.Params{
		ClientID:      p.ClientID,
		ClientVersion: p.ClientVersion,
		Language:      p.Language,
	}

	if validateDomain {
		domain, err := validate.Domain(p.Domain)
		if err != nil {
			probs = append(probs, validate.Problem{Path: "/domain", Message: err.Error()})
		} else {
			out.Domain = domain
		}
	} else {
		out.Domain = p.Domain
	}

	if len(p.IPv4) > 0 {
		v := validate.CoerceBool(p.IPv4)
		out.IPv4 = &v
	}
	if len(p.IPv6) > 0 {
		v := validate.CoerceBool(p.IPv6)
		out.IPv6 = &v
	}

	profileRaw := p.Profile
	if profileRaw == "" {
		profileRaw = "default"
	}
	profile, err := validate.Profile(profileRaw)
	if err != nil {
		probs = append(probs, validate.Problem{Path: "/profile", Message: err.Error()})
	} else if _, ok := s.Config.Profiles()[profile]; !ok {
		probs = append(probs, validate.Problem{Path: "/profile", Message: "Unknown profile"})
	} else {
		out.Profile = profile
	}

	for i, ns := range p.NameServers {
		path := fmt.Sprintf("/nameservers/%d", i)
		if ns.NS == "" {
			probs = append(probs, validate.Problem{Path: path + "/ns", Message: "ns is required"})
			continue
		}
		entry := models.NameServer{NS: strings.ToLower(ns.NS)}
		if ns.IP != "" {
			if err := validate.IP(ns.IP); err != nil {
				probs = append(probs, validate.Problem{Path: path + "/ip", Message: err.Error()})
				continue
			}
			entry.IP = ns.IP
		}
		out.NameServers = append(out.NameServers, entry)
	}

	for i, ds := range p.DSInfo {
		path := fmt.Sprintf("/ds_info/%d", i)
		if err := validate.Digest(ds.Digest); err != nil {
			probs = append(probs, validate.Problem{Path: path + "/digest", Message: err.Error()})
			continue
		}
		algo, err := validate.CoerceInt(ds.Algorithm)
		if err != nil {
			probs = append(probs, validate.Problem{Path: path + "/algorithm", Message: err.Error()})
			continue
		}
		digType, err := validate.CoerceInt(ds.DigType)
		if err != nil {
			probs = append(probs, validate.Problem{Path: path + "/digtype", Message: err.Error()})
			continue
		}
		keyTag, err := validate.CoerceInt(ds.KeyTag)
		if err != nil {
			probs = append(probs, validate.Problem{Path: path + "/keytag", Message: err.Error()})
			continue
		}
		out.DSInfo = append(out.DSInfo, models.DSInfo{
			Digest:    strings.ToLower(ds.Digest),
			Algorithm: uint8(algo),
			DigType:   uint8(digType),
			KeyTag:    uint16(keyTag),
		})
	}

	if p.Language != "" {
		if err := validate.LanguageTag(p.Language); err != nil {
			probs = append(probs, validate.Problem{Path: "/language", Message: err.Error()})
		}
	}

	priority := 10
	if len(p.Priority) > 0 {
		v, err := validate.CoerceInt(p.Priority)
		if err != nil {
			probs = append(probs, validate.Problem{Path: "/priority", Message: err.Error()})
		} else {
			priority = v
		}
	}
	queue := s.Config.LockOnQueue
	if len(p.Queue) > 0 {
		v, err := validate.CoerceInt(p.Queue)
		if err != nil {
			probs = append(probs, validate.Problem{Path: "/queue", Message: err.Error()})
		} else {
			queue = v
		}
	}

	return out, priority, queue, probs
}

func handleStartDomainTest(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p startDomainTestParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	params, priority, queue, probs := buildParams(s, p, true)
	if len(probs) > 0 {
		return nil, probs
	}
	normalized := fingerprint.Normalize(params)
	id, err := s.Store.CreateTest(ctx, normalized, priority, queue, s.Config.ReuseWindow)
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	return id, nil
}

type testIDParams struct {
	TestID string `json:"test_id"`
}

func handleTestProgress(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p testIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	t, err := s.Store.ReadTest(ctx, p.TestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &UserError{Message: "Unknown test id", Data: map[string]string{"test_id": p.TestID}}
	}
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	return t.Progress, nil
}

func handleGetTestParams(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p testIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	t, err := s.Store.ReadTest(ctx, p.TestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &UserError{Message: "Unknown test id", Data: map[string]string{"test_id": p.TestID}}
	}
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	return t.Params, nil
}

type getTestResultsParams struct {
	ID       string `json:"id"`
	Language string `json:"language"`
}

type resultEntryOut struct {
	Module  string `json:"module"`
	Message string `json:"message"`
	Level   string `json:"level"`
	NS      string `json:"ns,omitempty"`
}

type getTestResultsResult struct {
	CreationTime string           `json:"creation_time"`
	ID           int64            `json:"id"`
	HashID       string           `json:"hash_id"`
	Params       models.Params    `json:"params"`
	Results      []resultEntryOut `json:"results"`
}

func handleGetTestResults(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p getTestResultsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	locale := s.Config.Locales[0]
	if p.Language != "" {
		if err := validate.LanguageTag(p.Language); err != nil {
			return nil, validate.Errors{{Path: "/language", Message: err.Error()}}
		}
		resolved, ok := resolveLocale(s.Config, p.Language)
		if !ok {
			return nil, &UserError{Message: "Unknown language tag", Data: map[string]string{"language": p.Language}}
		}
		locale = resolved
	}

	t, err := s.Store.ReadTest(ctx, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &UserError{Message: "Unknown test id", Data: map[string]string{"id": p.ID}}
	}
	if err != nil {
		return nil, &InternalError{Err: err}
	}

	out := getTestResultsResult{
		CreationTime: t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		ID:           t.SeqID,
		HashID:       t.ID,
		Params:       t.Params,
		Results:      []resultEntryOut{},
	}
	if len(t.Results) == 0 {
		return out, nil
	}

	translateErr := s.Catalog.WithLocale(locale, s.Config.LocaleSet(), func() error {
		for _, entry := range t.Results {
			if translate.DropPolicyDisabledExample(entry) {
				continue
			}
			message := translate.RewritePolicyPaths(s.Catalog.Translate(entry))
			out.Results = append(out.Results, resultEntryOut{
				Module:  entry.Module,
				Message: message,
				Level:   entry.Level.String(),
				NS:      entry.NS,
			})
		}
		return nil
	})
	if translateErr != nil {
		return nil, &InternalError{Err: translateErr}
	}
	return out, nil
}

type getTestHistoryParams struct {
	Offset         json.RawMessage `json:"offset,omitempty"`
	Limit          json.RawMessage `json:"limit,omitempty"`
	Filter         string          `json:"filter,omitempty"`
	FrontendParams struct {
		Domain string `json:"domain"`
	} `json:"frontend_params"`
}

type historyEntryOut struct {
	ID            string `json:"id"`
	CreationTime  string `json:"creation_time"`
	OverallResult string `json:"overall_result"`
	Undelegated   bool   `json:"undelegated"`
}

func handleGetTestHistory(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p getTestHistoryParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	if p.FrontendParams.Domain == "" {
		return nil, validate.Errors{{Path: "/frontend_params/domain", Message: "domain is required"}}
	}
	domain, err := validate.Domain(p.FrontendParams.Domain)
	if err != nil {
		return nil, validate.Errors{{Path: "/frontend_params/domain", Message: err.Error()}}
	}

	offset := 0
	if len(p.Offset) > 0 {
		if offset, err = validate.CoerceInt(p.Offset); err != nil {
			return nil, validate.Errors{{Path: "/offset", Message: err.Error()}}
		}
	}
	limit := 200
	if len(p.Limit) > 0 {
		if limit, err = validate.CoerceInt(p.Limit); err != nil {
			return nil, validate.Errors{{Path: "/limit", Message: err.Error()}}
		}
	}
	filter := models.HistoryFilter(p.Filter)
	switch filter {
	case "", models.HistoryAll:
		filter = models.HistoryAll
	case models.HistoryDelegated, models.HistoryUndelegated:
	default:
		return nil, validate.Errors{{Path: "/filter", Message: "Invalid filter"}}
	}

	entries, err := s.Store.History(ctx, domain, offset, limit, filter)
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	out := make([]historyEntryOut, len(entries))
	for i, e := range entries {
		out[i] = historyEntryOut{
			ID:            e.ID,
			CreationTime:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			OverallResult: e.OverallResult,
			Undelegated:   e.Undelegated,
		}
	}
	return out, nil
}

type addAPIUserParams struct {
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}

func handleAddAPIUser(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p addAPIUserParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	var probs validate.Errors
	if err := validate.Username(p.Username); err != nil {
		probs = append(probs, validate.Problem{Path: "/username", Message: err.Error()})
	}
	if err := validate.APIKey(p.APIKey); err != nil {
		probs = append(probs, validate.Problem{Path: "/api_key", Message: err.Error()})
	}
	if len(probs) > 0 {
		return nil, probs
	}
	n, err := s.Store.AddUser(ctx, p.Username, p.APIKey)
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	if n == 0 {
		// AddUser normalizes the same-pair no-op and the conflicting-pair
		// case to the same (0, nil) result (spec.md §4.3.2); VerifyUser
		// tells them apart so only the conflict surfaces as a user error.
		ok, err := s.Store.VerifyUser(ctx, p.Username, p.APIKey)
		if err != nil {
			return nil, &InternalError{Err: err}
		}
		if !ok {
			return nil, &UserError{
				Message: "Username already exists with a different api key",
				Data:    map[string]any{"username": p.Username},
			}
		}
	}
	return n, nil
}

type addBatchJobParams struct {
	Username   string                `json:"username"`
	APIKey     string                `json:"api_key"`
	Domains    []string              `json:"domains"`
	TestParams startDomainTestParams `json:"test_params,omitempty"`
}

func handleAddBatchJob(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	if !s.Config.EnableAddBatchJob {
		return nil, methodNotFound("add_batch_job")
	}
	var p addBatchJobParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	var probs validate.Errors
	if err := validate.Username(p.Username); err != nil {
		probs = append(probs, validate.Problem{Path: "/username", Message: err.Error()})
	}
	if err := validate.APIKey(p.APIKey); err != nil {
		probs = append(probs, validate.Problem{Path: "/api_key", Message: err.Error()})
	}
	if len(p.Domains) == 0 {
		probs = append(probs, validate.Problem{Path: "/domains", Message: "at least one domain is required"})
	}
	domains := make([]string, len(p.Domains))
	for i, d := range p.Domains {
		norm, err := validate.Domain(d)
		if err != nil {
			probs = append(probs, validate.Problem{Path: fmt.Sprintf("/domains/%d", i), Message: err.Error()})
			continue
		}
		domains[i] = norm
	}

	if p.TestParams.Priority == nil {
		p.TestParams.Priority = json.RawMessage("5")
	}
	testParams, priority, queue, buildProbs := buildParams(s, p.TestParams, false)
	probs = append(probs, buildProbs...)
	if len(probs) > 0 {
		return nil, probs
	}
	normalized := fingerprint.Normalize(testParams)

	batchID, err := s.Store.CreateBatch(ctx, p.Username, p.APIKey, normalized, domains, priority, queue)
	if err != nil {
		var openBatch *store.ErrOpenBatch
		switch {
		case errors.As(err, &openBatch):
			return nil, &UserError{Message: "Batch job still running", Data: map[string]any{
				"batch_id":      openBatch.BatchID,
				"creation_time": openBatch.CreationTime,
			}}
		case errors.Is(err, store.ErrBadCredentials):
			return nil, &UserError{Message: "Invalid username or api key"}
		default:
			return nil, &InternalError{Err: err}
		}
	}
	return batchID, nil
}

type batchIDParams struct {
	BatchID json.RawMessage `json:"batch_id"`
}

type batchJobResultOut struct {
	NbFinished      int      `json:"nb_finished"`
	NbRunning       int      `json:"nb_running"`
	FinishedTestIDs []string `json:"finished_test_ids"`
}

func handleGetBatchJobResult(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p batchIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, validate.Errors{{Path: "", Message: err.Error()}}
	}
	batchID, err := validate.CoerceInt(p.BatchID)
	if err != nil {
		return nil, validate.Errors{{Path: "/batch_id", Message: err.Error()}}
	}
	status, err := s.Store.BatchStatus(ctx, int64(batchID))
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	finishedIDs := status.FinishedTestIDs
	if finishedIDs == nil {
		finishedIDs = []string{}
	}
	return batchJobResultOut{NbFinished: status.NbFinished, NbRunning: status.NbRunning, FinishedTestIDs: finishedIDs}, nil
}
