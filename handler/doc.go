// Package handler provides typed JSON request handling.
//
// A HandlerFunc receives a bound request value and returns a Response:
//
//	type IntentRequest struct {
//		Plan     string `json:"plan"`
//		Interval string `json:"interval"`
//	}
//
//	func applyIntent(ctx handler.Context, req IntentRequest) handler.Response {
//		res, err := svc.ApplyIntent(ctx, tenantID, req.Plan, req.Interval)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(res)
//	}
//
//	r.Post("/plan-intent", handler.Wrap(applyIntent, handler.WithBinders[handler.Context, IntentRequest](handler.BindJSON())))
//
// Errors returned by binders or by Render are passed to the ErrorHandler,
// which renders {"error":{"error_code":...,"message":...}}.
package handler
