package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions defines how admin-only checks behave.
type AdminOptions struct {
	AdminID  int64
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets only AdminID reach next. With AdminID unset every
// sender is rejected, so admin commands stay closed by default.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if u := c.Sender(); opts.AdminID == 0 || u == nil || u.ID != opts.AdminID {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
