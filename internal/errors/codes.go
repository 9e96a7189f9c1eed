package errors

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeRetriesExhausted      Code = "RETRIES_EXHAUSTED"
	CodeTimeout               Code = "TIMEOUT"

	// 意图解析与链上交互相关的错误码。
	CodeMissingAccount         Code = "MISSING_ACCOUNT"
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
	CodeUnknownToken           Code = "UNKNOWN_TOKEN"
	CodeDirectoryNotFound      Code = "DIRECTORY_NOT_FOUND"
	CodeContactNotFound        Code = "CONTACT_NOT_FOUND"
	CodeContactNeedsResave     Code = "CONTACT_NEEDS_RESAVE"
	CodeDirectoryAlreadyExists Code = "DIRECTORY_ALREADY_EXISTS"
	CodeLedgerUnavailable      Code = "LEDGER_UNAVAILABLE"
	CodeClassificationError    Code = "CLASSIFICATION_ERROR"
	CodeExecutionFailed        Code = "EXECUTION_FAILED"
)

func defaultRegistry() map[Code]Attributes {
	return map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Status: 500},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Status: 400},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, Status: 404},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning, Status: 409},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Status: 503},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Status: 500},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Status: 503},
		CodeRetriesExhausted:      {Message: "retries exhausted", Severity: SeverityWarning, Status: 500},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Status: 504},

		CodeMissingAccount:         {Message: "user address is required", Severity: SeverityInfo, Status: 400},
		CodeInvalidAmount:          {Message: "invalid amount", Severity: SeverityInfo, Status: 400},
		CodeUnknownToken:           {Message: "unknown token", Severity: SeverityInfo, Status: 400},
		CodeDirectoryNotFound:      {Message: "address book not found", Severity: SeverityInfo, Status: 404},
		CodeContactNotFound:        {Message: "contact not found", Severity: SeverityInfo, Status: 404},
		CodeContactNeedsResave:     {Message: "contact stored in legacy format", Severity: SeverityInfo, Status: 409},
		CodeDirectoryAlreadyExists: {Message: "address book already exists", Severity: SeverityInfo, Status: 409},
		CodeLedgerUnavailable:      {Message: "ledger unavailable", Severity: SeverityWarning, Retryable: true, Status: 502},
		CodeClassificationError:    {Message: "intent classification failed", Severity: SeverityWarning, Retryable: true, Status: 502},
		CodeExecutionFailed:        {Message: "transaction execution failed", Severity: SeverityWarning, Status: 502},
	}
}
