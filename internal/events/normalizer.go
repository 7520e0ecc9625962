package events

import (
	"encoding/json"
	"strings"
)

const unknown = "unknown"

// resourceRule maps a known eventSource/eventName substring to a resource
// type and the requestParameters path used to extract the resource id
// (spec §4.1's "closed table").
type resourceRule struct {
	sourceSubstr string
	resourceType string
	idPath       func(detail map[string]any) string
}

var apiCallResourceTable = []resourceRule{
	{sourceSubstr: "ec2", resourceType: "compute", idPath: extractInstanceID},
	{sourceSubstr: "lambda", resourceType: "function", idPath: extractByKey("functionName", "FunctionName")},
	{sourceSubstr: "dynamodb", resourceType: "table-store", idPath: extractByKey("tableName", "TableName")},
	{sourceSubstr: "s3", resourceType: "object-store", idPath: extractByKey("bucketName", "BucketName")},
	{sourceSubstr: "rds", resourceType: "relational-db", idPath: extractByKey("dBInstanceIdentifier", "DBInstanceIdentifier")},
	{sourceSubstr: "ssm", resourceType: "parameter-store", idPath: extractByKey("name", "Name")},
}

func extractByKey(keys ...string) func(map[string]any) string {
	return func(detail map[string]any) string {
		params, _ := detail["requestParameters"].(map[string]any)
		for _, k := range keys {
			if v, ok := params[k].(string); ok && v != "" {
				return v
			}
		}
		return unknown
	}
}

func extractInstanceID(detail map[string]any) string {
	params, _ := detail["requestParameters"].(map[string]any)
	if params == nil {
		return unknown
	}
	// EC2 instance actions nest ids under instancesSet.items[].instanceId
	if set, ok := params["instancesSet"].(map[string]any); ok {
		if items, ok := set["items"].([]any); ok && len(items) > 0 {
			if first, ok := items[0].(map[string]any); ok {
				if id, ok := first["instanceId"].(string); ok {
					return id
				}
			}
		}
	}
	if id, ok := params["instanceId"].(string); ok {
		return id
	}
	return unknown
}

// Normalize classifies a raw envelope and, if recognized, returns the
// canonical IncidentContext. A nil context with a non-nil IgnoreResult means
// "no incident should be created" — that is not an error.
func Normalize(env Envelope, correlationID, eventTime string) (*IncidentContext, *IgnoreResult) {
	switch {
	case env.DetailType == "EC2 Instance State-change Notification":
		return normalizeInstanceStateChange(env, correlationID, eventTime), nil
	case env.DetailType == "AWS API Call via CloudTrail":
		ctx, ignore := normalizeAPICallAudit(env, correlationID, eventTime)
		return ctx, ignore
	case env.DetailType == "Regional Forward":
		return normalizeRegionalForward(env, correlationID, eventTime)
	default:
		return nil, ignoredUnknownEventType()
	}
}

func normalizeInstanceStateChange(env Envelope, correlationID, eventTime string) *IncidentContext {
	var detail map[string]any
	_ = json.Unmarshal(env.Detail, &detail)

	instanceID := unknown
	if v, ok := detail["instance-id"].(string); ok && v != "" {
		instanceID = v
	}
	state, _ := detail["state"].(string)

	return &IncidentContext{
		CorrelationID:   correlationID,
		EventName:       "InstanceStateChange:" + state,
		ResourceType:    "compute",
		ResourceID:      instanceID,
		Region:          env.Region,
		RegionalContext: env.RegionalContext,
		Actor:           "System",
		EventDetails:    env.Detail,
		EventTime:       eventTime,
	}
}

func normalizeAPICallAudit(env Envelope, correlationID, eventTime string) (*IncidentContext, *IgnoreResult) {
	var detail map[string]any
	if err := json.Unmarshal(env.Detail, &detail); err != nil {
		return nil, ignoredUnknownEventType()
	}

	eventSource, _ := detail["eventSource"].(string)
	eventName, _ := detail["eventName"].(string)
	if eventSource == "" || eventName == "" {
		return nil, ignoredUnknownEventType()
	}

	resourceType := unknown
	resourceID := unknown
	lowerSource := strings.ToLower(eventSource)
	for _, rule := range apiCallResourceTable {
		if strings.Contains(lowerSource, rule.sourceSubstr) {
			resourceType = rule.resourceType
			resourceID = rule.idPath(detail)
			break
		}
	}

	actor := unknown
	if identity, ok := detail["userIdentity"].(map[string]any); ok {
		if arn, ok := identity["arn"].(string); ok {
			actor = arn
		}
	}

	return &IncidentContext{
		CorrelationID: correlationID,
		EventName:     eventName,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Region:        env.Region,
		Actor:         actor,
		EventDetails:  env.Detail,
		EventTime:     eventTime,
	}, nil
}

func normalizeRegionalForward(env Envelope, correlationID, eventTime string) (*IncidentContext, *IgnoreResult) {
	var inner string
	if err := json.Unmarshal(env.Detail, &inner); err != nil {
		return nil, ignoredUnknownEventType()
	}
	innerEnv := Envelope{
		DetailType:      "AWS API Call via CloudTrail",
		Detail:          json.RawMessage(inner),
		Region:          env.Region,
		RegionalContext: env.RegionalContext,
	}
	return normalizeAPICallAudit(innerEnv, correlationID, eventTime)
}

// ShouldForwardToCentral decides whether an event detected in region should
// be forwarded to the central orchestrator region (supplemented from
// original_source's regional_orchestrator.py — the Normalizer only models
// the receiving side; this is the paired decision for the caller that emits
// the "Regional Forward" envelope in the first place).
func ShouldForwardToCentral(region, centralRegion string) bool {
	if centralRegion == "" {
		return false
	}
	return region != centralRegion
}
