package grpcserver

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// credentialsFromMD returns the raw authorization and browser identity
// values of the incoming call. Missing keys yield empty strings.
func credentialsFromMD(ctx context.Context, browserKey string) (authorization, browser string) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ""
	}
	return first(md, "authorization"), first(md, strings.ToLower(browserKey))
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
